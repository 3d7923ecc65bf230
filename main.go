// SPDX-License-Identifier: MPL-2.0

// Command stamina is a deployment unit runtime.
package main

import cmd "github.com/stamina/stamina/cmd/stamina"

func main() {
	cmd.Execute()
}
