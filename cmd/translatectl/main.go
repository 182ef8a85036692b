// Command translatectl runs translation jobs from the command line against
// the same stores and backends the API uses.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
