// Package configutil loads layered configuration through viper and renders
// it back as YAML.
package configutil
