// Command gateway is the aicore multi-tenant LLM reverse proxy.
//
// Usage:
//
//	# Start the proxy server (default action, no subcommand needed)
//	gateway --config config.yaml
//
//	# List resource groups for every configured provider
//	gateway resource-group list
//
//	# List deployments in a resource group
//	gateway deployments list -r default
package main

func main() {
	Execute()
}
