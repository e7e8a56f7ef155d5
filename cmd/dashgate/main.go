// Command dashgate serves internal dashboards behind an SSO session.
package main

import "github.com/Ahmdfdhilah/dashgate/cmd/dashgate/cmd"

func main() {
	cmd.Execute()
}
