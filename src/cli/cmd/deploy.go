package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/henn-dt/stevedore/src/build"
	"github.com/henn-dt/stevedore/src/credential"
	"github.com/henn-dt/stevedore/src/kube"
	"github.com/henn-dt/stevedore/src/publish"
)

var (
	deployVariant string
	deployOut     string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Kubernetes deployment helpers",
	Long:  "Render the pull secret and deployment fragment for a published image.",
}

var deployRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render the pull secret and deployment fragment",
	Long: `Render the kubernetes.io/dockerconfigjson pull secret and a deployment
fragment referencing it, as multi-document YAML for review.

Stevedore never applies cluster changes itself — pipe the output to your
cluster client after review. The rendered secret contains the registry
token; treat the output like the credential.`,
	RunE: runDeployRender,
}

func init() {
	deployRenderCmd.Flags().StringVar(&deployVariant, "variant", "", "variant whose image the deployment references (default: first configured)")
	deployRenderCmd.Flags().StringVar(&deployOut, "out", "", "write manifests to this file instead of stdout")

	deployCmd.AddCommand(deployRenderCmd)
	rootCmd.AddCommand(deployCmd)
}

func runDeployRender(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	variant := deployVariant
	if variant == "" {
		variant = cfg.Variants[0].Name
	}

	vi, _ := build.DetectVersion(".")
	target, err := publish.ResolveTarget(cfg, variant, vi)
	if err != nil {
		return err
	}

	cred, err := credential.EnvSource{
		Server: cfg.Registry,
		Prefix: cfg.Credentials,
		Email:  cfg.Email,
	}.Resolve()
	if err != nil {
		return err
	}

	patch := kube.Patch{
		SecretName: cfg.Deploy.SecretName,
		Namespace:  cfg.Deploy.Namespace,
		ImageRef:   target.Ref(),
		Deployment: cfg.Deploy.Deployment,
		Container:  cfg.Deploy.Container,
	}

	secret, err := kube.BuildPullSecret(cred, patch)
	if err != nil {
		return err
	}
	fragment, err := kube.BuildDeploymentFragment(patch)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if deployOut != "" {
		f, err := os.OpenFile(deployOut, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("creating %s: %w", deployOut, err)
		}
		defer f.Close()
		w = f
	}

	return kube.Render(w, secret, fragment)
}
