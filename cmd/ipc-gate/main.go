// Command ipc-gate spawns worker processes and drives typed calls into them.
package main

import "github.com/Sentinel-Gate/ipcgate/cmd/ipc-gate/cmd"

func main() {
	cmd.Execute()
}
