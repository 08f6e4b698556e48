// Package config handles loading and validating the hub companion configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (COMPANION_*, plus the hub's
//     HOMEASSISTANT_URL and SUPERVISOR_* add-on variables)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Tokens and passwords should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Hub.URL)
package config
