// Command ingestd runs the change-aware URL ingestion engine.
package main

import "github.com/pagevault/ingestd/internal/cmd"

func main() {
	cmd.Execute()
}
