// Package main is the entry point for poolgate.
package main

func main() {
	Execute()
}
