package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/droverd/drover/pkg/client"
	"github.com/droverd/drover/pkg/types"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply a Drover configuration from a YAML file.

Examples:
  # Register a process
  drover apply -f process.yaml

  # Set up a workqueue with its feeding trigger
  drover apply -f queue.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// DroverResource represents a generic manifest document.
type DroverResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var resource DroverResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	c := apiClient(cmd)

	switch resource.Kind {
	case "Process":
		return applyProcess(c, &resource)
	case "Trigger":
		return applyTrigger(c, &resource)
	case "Workqueue":
		return applyWorkqueue(c, &resource)
	case "Credential":
		return applyCredential(c, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyProcess(c *client.Client, resource *DroverResource) error {
	name := resource.Metadata.Name

	p := &types.Process{
		Name:               name,
		Description:        getString(resource.Spec, "description", ""),
		Requirements:       getString(resource.Spec, "requirements", ""),
		TargetType:         types.TargetType(getString(resource.Spec, "targetType", "")),
		TargetSource:       getString(resource.Spec, "targetSource", ""),
		TargetCredentialID: getString(resource.Spec, "targetCredentialId", ""),
		CredentialID:       getString(resource.Spec, "credentialId", ""),
		WorkqueueID:        getString(resource.Spec, "workqueueId", ""),
	}

	// Existing processes are updated in place, matched by name.
	existing, err := c.ListProcesses()
	if err != nil {
		return fmt.Errorf("failed to list processes: %v", err)
	}
	for _, candidate := range existing {
		if candidate.Name == name {
			p.ID = candidate.ID
			updated, err := c.UpdateProcess(p)
			if err != nil {
				return fmt.Errorf("failed to update process: %v", err)
			}
			fmt.Printf("✓ Process updated: %s (ID: %s)\n", updated.Name, updated.ID)
			return nil
		}
	}

	created, err := c.CreateProcess(p)
	if err != nil {
		return fmt.Errorf("failed to create process: %v", err)
	}
	fmt.Printf("✓ Process created: %s (ID: %s)\n", created.Name, created.ID)
	return nil
}

func applyTrigger(c *client.Client, resource *DroverResource) error {
	trg := &types.Trigger{
		ProcessID:                 getString(resource.Spec, "processId", ""),
		Type:                      types.TriggerType(getString(resource.Spec, "type", "")),
		Cron:                      getString(resource.Spec, "cron", ""),
		WorkqueueID:               getString(resource.Spec, "workqueueId", ""),
		WorkqueueScaleUpThreshold: getInt(resource.Spec, "scaleUpThreshold", 0),
		WorkqueueResourceLimit:    getInt(resource.Spec, "resourceLimit", 0),
		Parameters:                getString(resource.Spec, "parameters", ""),
		Enabled:                   getBool(resource.Spec, "enabled", true),
	}
	if raw := getString(resource.Spec, "date", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("failed to parse date %q: %v", raw, err)
		}
		trg.Date = &parsed
	}

	created, err := c.CreateTrigger(trg)
	if err != nil {
		return fmt.Errorf("failed to create trigger: %v", err)
	}
	fmt.Printf("✓ Trigger created: %s (ID: %s)\n", created.Type, created.ID)
	return nil
}

func applyWorkqueue(c *client.Client, resource *DroverResource) error {
	name := resource.Metadata.Name

	existing, err := c.ListWorkqueues()
	if err != nil {
		return fmt.Errorf("failed to list workqueues: %v", err)
	}
	for _, candidate := range existing {
		if candidate.Name == name {
			fmt.Printf("Workqueue already exists: %s (skipping)\n", name)
			return nil
		}
	}

	q, err := c.CreateWorkqueue(&types.Workqueue{
		Name:        name,
		Description: getString(resource.Spec, "description", ""),
		Enabled:     getBool(resource.Spec, "enabled", true),
	})
	if err != nil {
		return fmt.Errorf("failed to create workqueue: %v", err)
	}
	fmt.Printf("✓ Workqueue created: %s (ID: %s)\n", q.Name, q.ID)
	return nil
}

func applyCredential(c *client.Client, resource *DroverResource) error {
	name := resource.Metadata.Name

	existing, err := c.ListCredentials()
	if err != nil {
		return fmt.Errorf("failed to list credentials: %v", err)
	}
	for _, candidate := range existing {
		if candidate.Name == name {
			fmt.Printf("Credential already exists: %s (skipping)\n", name)
			return nil
		}
	}

	cred, err := c.CreateCredential(client.CreateCredentialRequest{
		Name:     name,
		Data:     getString(resource.Spec, "data", ""),
		Username: getString(resource.Spec, "username", ""),
		Password: getString(resource.Spec, "password", ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create credential: %v", err)
	}
	fmt.Printf("✓ Credential created: %s (ID: %s)\n", cred.Name, cred.ID)
	return nil
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}

func getBool(m map[string]interface{}, key string, defaultValue bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultValue
}
