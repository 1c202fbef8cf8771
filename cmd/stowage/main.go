// Command stowage loads, edits, and links mapped entities through a unit of
// work, and runs the reassign-before-initialize scenario.
package main

import "github.com/mesh-intelligence/stowage/internal/cli"

func main() {
	cli.Execute()
}
