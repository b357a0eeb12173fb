// Command rtnet runs an rtnet server, client, or discovery node.
package main

func main() {
	Execute()
}
