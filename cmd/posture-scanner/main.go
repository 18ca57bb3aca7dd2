package main

import (
	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// so the scanner can reach clusters using them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/kubewarden/posture-scanner/internal/cmd"
)

func main() {
	rootCmd := cmd.NewRootCommand()
	cmd.Execute(rootCmd)
}
