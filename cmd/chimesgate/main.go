// Command chimesgate runs the invocation gateway server and its
// companion namespace packaging tools.
package main

func main() {
	Execute()
}
