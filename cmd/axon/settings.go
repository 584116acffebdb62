package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the effective settings (defaults merged with settings.json)",
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting by dotted key path",
	Long: `Set updates one key in settings.json. The value is parsed as JSON where
possible, otherwise taken as a string.

Examples:
  axon settings set http.timeoutMs 60000
  axon settings set embedding.defaultCollection mydocs
  axon settings set crawl.missingThreshold 3`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	RunE:  runSettingsPath,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()
	return printJSON(app.settings)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	key, raw := args[0], args[1]
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	partial, err := partialForKey(key, value)
	if err != nil {
		return err
	}
	if _, err := app.manager.Save(partial); err != nil {
		return err
	}
	fmt.Printf("set %s = %v\n", key, value)
	return nil
}

func runSettingsPath(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()
	fmt.Println(app.manager.Path())
	return nil
}

// partialForKey turns "http.timeoutMs" into {"http": {"timeoutMs": v}}. The
// merge is one level deep, matching the settings schema.
func partialForKey(key string, value any) (map[string]any, error) {
	parts := strings.Split(key, ".")
	switch len(parts) {
	case 1:
		return map[string]any{parts[0]: value}, nil
	case 2:
		return map[string]any{parts[0]: map[string]any{parts[1]: value}}, nil
	default:
		return nil, fmt.Errorf("invalid key %q: expected section.key or key", key)
	}
}
