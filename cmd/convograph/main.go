// Command convograph serves the conversation engine and manages its data.
package main

func main() {
	Execute()
}
