package configutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load layers configuration into out: the YAML rendering of defaults, the
// file at path when set, then environment variables named
// <envPrefix>_<SECTION>_<KEY>. Struct fields map through their mapstructure
// tags, which must match their yaml tags.
func Load(v *viper.Viper, path, envPrefix string, defaults, out any) error {
	if v == nil {
		v = viper.New()
	}
	base, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return fmt.Errorf("load defaults: %w", err)
	}

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if envPrefix != "" {
		v.SetEnvPrefix(envPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
		v.AutomaticEnv()
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Dump writes cfg as YAML.
func Dump(w io.Writer, cfg any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

// FlagOrViperString prefers an explicitly set flag over the config key.
func FlagOrViperString(cmd *cobra.Command, v *viper.Viper, flag, key string) string {
	if cmd != nil && cmd.Flags().Changed(flag) {
		s, _ := cmd.Flags().GetString(flag)
		return s
	}
	return v.GetString(key)
}

// FlagOrViperInt prefers an explicitly set flag over the config key.
func FlagOrViperInt(cmd *cobra.Command, v *viper.Viper, flag, key string) int {
	if cmd != nil && cmd.Flags().Changed(flag) {
		n, _ := cmd.Flags().GetInt(flag)
		return n
	}
	return v.GetInt(key)
}
