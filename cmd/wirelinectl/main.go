// Wirelinectl is the operator CLI for one-shot RADIUS and MS-SAMR
// requests against directory services.
package main

import "github.com/lucian/wireline/cmd/wirelinectl/commands"

func main() {
	commands.Execute()
}
