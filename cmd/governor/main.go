// Command governor runs the runtime governance engine CLI.
package main

import "github.com/runtimegov/governor/cmd/governor/cmd"

func main() {
	cmd.Execute()
}
