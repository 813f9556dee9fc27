// Command kmsctl probes and programs a DRM/KMS device from the shell.
package main

func main() {
	Execute()
}
