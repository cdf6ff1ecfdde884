package cfg

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ClinicalGenomicsGBG/cellophane/pkg/container"
)

// envPrefix is the prefix for environment-variable overrides
// (CELLOPHANE_EXECUTOR_CPUS, ...).
const envPrefix = "CELLOPHANE"

// RegisterFlags adds one CLI flag per schema leaf to the command. Booleans
// get a paired --X / --no_X; every other type is a string flag converted at
// bind time.
func RegisterFlags(cmd *cobra.Command, flags []Flag) {
	for _, flag := range flags {
		name := flag.Name()
		usage := flag.Description

		if flag.Secret {
			usage += " (secret)"
		}

		if len(flag.Enum) > 0 {
			options := make([]string, 0, len(flag.Enum))
			for _, option := range flag.Enum {
				options = append(options, fmt.Sprint(option))
			}

			usage += " [" + strings.Join(options, "|") + "]"
		}

		switch flag.Type {
		case "boolean":
			cmd.Flags().Bool(name, false, usage)
			cmd.Flags().Bool("no_"+name, false, "Disable --"+name)
		case "integer":
			cmd.Flags().Int64(name, 0, usage)
		case "number":
			cmd.Flags().Float64(name, 0, usage)
		case "array":
			cmd.Flags().StringSlice(name, nil, usage)
		default:
			// string, path, size, mapping, and untyped leaves.
			cmd.Flags().String(name, "", usage)
		}
	}
}

// CollectOverrides reads the flags the user actually set into an ordered
// container of dotted keys. Paired boolean negations win over their
// positive form.
func CollectOverrides(cmd *cobra.Command, flags []Flag) (*container.Container, error) {
	overrides := container.New()

	var firstErr error

	for _, flag := range flags {
		name := flag.Name()
		key := flag.DottedKey()

		switch flag.Type {
		case "boolean":
			negated := cmd.Flags().Changed("no_" + name)
			if negated {
				firstErr = setOverride(overrides, key, false, firstErr)

				continue
			}

			if cmd.Flags().Changed(name) {
				value, _ := cmd.Flags().GetBool(name)
				firstErr = setOverride(overrides, key, value, firstErr)
			}
		case "integer":
			if cmd.Flags().Changed(name) {
				value, _ := cmd.Flags().GetInt64(name)
				firstErr = setOverride(overrides, key, value, firstErr)
			}
		case "number":
			if cmd.Flags().Changed(name) {
				value, _ := cmd.Flags().GetFloat64(name)
				firstErr = setOverride(overrides, key, value, firstErr)
			}
		case "array":
			if cmd.Flags().Changed(name) {
				value, _ := cmd.Flags().GetStringSlice(name)
				firstErr = setOverride(overrides, key, value, firstErr)
			}
		case "size":
			if cmd.Flags().Changed(name) {
				raw, _ := cmd.Flags().GetString(name)

				// Sizes stay humanized strings in the config; reject
				// unparseable values here, before validation.
				_, err := humanize.ParseBytes(raw)
				if err != nil {
					return nil, fmt.Errorf("flag --%s: %w", name, err)
				}

				firstErr = setOverride(overrides, key, raw, firstErr)
			}
		default:
			if cmd.Flags().Changed(name) {
				value, _ := cmd.Flags().GetString(name)
				firstErr = setOverride(overrides, key, value, firstErr)
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}

	return overrides, nil
}

func setOverride(overrides *container.Container, key string, value any, firstErr error) error {
	err := overrides.Set(key, value)
	if err != nil && firstErr == nil {
		return fmt.Errorf("flag %q: %w", key, err)
	}

	return firstErr
}

// NewViper returns a viper instance bound to the environment with the
// engine prefix, for callers that layer env overrides between the file and
// the flags.
func NewViper() *viper.Viper {
	viperCfg := viper.New()
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return viperCfg
}

// EnvOverrides resolves environment-variable values for the schema leaves
// via viper, converted to the leaf's schema type.
func EnvOverrides(viperCfg *viper.Viper, flags []Flag) *container.Container {
	overrides := container.New()

	for _, flag := range flags {
		key := flag.DottedKey()

		if !viperCfg.IsSet(key) {
			continue
		}

		switch flag.Type {
		case "boolean":
			_ = overrides.Set(key, viperCfg.GetBool(key))
		case "integer":
			_ = overrides.Set(key, viperCfg.GetInt64(key))
		case "number":
			_ = overrides.Set(key, viperCfg.GetFloat64(key))
		case "array":
			_ = overrides.Set(key, viperCfg.GetStringSlice(key))
		default:
			_ = overrides.Set(key, viperCfg.GetString(key))
		}
	}

	return overrides
}

// LookupString reads a string flag that may not exist, for engine flags
// shared between commands.
func LookupString(flagSet *pflag.FlagSet, name string) string {
	flag := flagSet.Lookup(name)
	if flag == nil {
		return ""
	}

	return flag.Value.String()
}
