// Command pcbinspect aligns PCB frames, verifies their components and serves
// the inspection API.
package main

import "pcb-inspect/cmd/pcbinspect/cmd"

func main() {
	cmd.Execute()
}
