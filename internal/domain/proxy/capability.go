package proxy

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/lifecycle"
	"github.com/Sentinel-Gate/ipcgate/pkg/wire"
)

// capHandler converts registered interface values to capability references
// and back for one call. Proxies created along the way are closed with
// parent, when set.
type capHandler struct {
	sess   Session
	parent *lifecycle.Base
	owned  bool // exported implementations are owned by their server

	imported int
}

func (h *capHandler) IsCapability(t reflect.Type) bool {
	_, ok := h.sess.Registry().LookupType(t)
	return ok
}

func (h *capHandler) BuildCapability(v reflect.Value) (json.RawMessage, error) {
	iface, ok := h.sess.Registry().LookupType(v.Type())
	if !ok {
		return nil, fmt.Errorf("%s is not a registered interface", v.Type())
	}
	srv, err := NewServer(h.sess, iface, v.Interface(), h.owned)
	if err != nil {
		return nil, err
	}
	id := h.sess.Export(srv)
	if h.parent != nil {
		h.parent.AddCloseHook(lifecycle.NewCloseHook(fmt.Sprintf("%s export %d", iface.Name, id), srv.Close))
	}
	return json.Marshal(wire.CapRef{Cap: id, Interface: iface.Name})
}

func (h *capHandler) ReadCapability(data json.RawMessage, t reflect.Type) (reflect.Value, error) {
	iface, ok := h.sess.Registry().LookupType(t)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%s is not a registered interface", t)
	}
	var ref wire.CapRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return reflect.Value{}, fmt.Errorf("decode capability reference: %w", err)
	}
	if ref.Interface != iface.Name {
		return reflect.Value{}, fmt.Errorf("capability %d is a %s, want %s", ref.Cap, ref.Interface, iface.Name)
	}

	client := h.sess.Import(ref.Cap, iface)
	h.imported++
	if h.parent != nil {
		h.parent.AddCloseHook(lifecycle.NewCloseHook(fmt.Sprintf("%s import %d", iface.Name, ref.Cap), client.Close))
	}
	stub, err := h.sess.Registry().NewStub(client)
	if err != nil {
		return reflect.Value{}, err
	}
	v := reflect.New(t).Elem()
	v.Set(reflect.ValueOf(stub))
	return v, nil
}
