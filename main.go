// Command pricecrawl collects supermarket prices with a browsing agent.
package main

import "github.com/ahgcrowdfarming/agentic-browsing/cmd"

func main() {
	cmd.Execute()
}
