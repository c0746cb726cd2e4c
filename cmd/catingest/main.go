// Command catingest writes reanalysis time windows to caterva containers.
package main

func main() {
	Execute()
}
