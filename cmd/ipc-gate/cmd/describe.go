package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
	"github.com/Sentinel-Gate/ipcgate/internal/domain/worker"
)

var describeMarkdown bool

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Print the registered interfaces",
	Long: `Print every interface ipc-gate can call or export, with the methods
and wire fingerprint exchanged at bootstrap. Methods marked "override"
encode their arguments with custom code.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := worker.NewRegistry()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderInterfaces(reg, describeMarkdown))
		return nil
	},
}

func init() {
	describeCmd.Flags().BoolVar(&describeMarkdown, "markdown", false, "render as a Markdown table")
	rootCmd.AddCommand(describeCmd)
}

// renderInterfaces renders one row per method of every interface in reg.
func renderInterfaces(reg *proxy.Registry, markdown bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Interface", "Fingerprint", "Method", "Signature", "Encoding"})

	for _, iface := range reg.Interfaces() {
		for _, m := range iface.Methods {
			encoding := "default"
			if reg.HasOverride(proxy.MethodKey{Interface: iface.Name, Method: m.Name}) {
				encoding = "override"
			}
			tw.AppendRow(table.Row{iface.Name, iface.FingerprintHex(), m.Name, m.Signature(), encoding})
		}
		tw.AppendSeparator()
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 2, AutoMerge: true},
	})

	if markdown {
		return tw.RenderMarkdown()
	}
	return tw.Render()
}
