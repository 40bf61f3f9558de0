// Command faceattend is a face recognition attendance kiosk.
package main

func main() {
	Execute()
}
