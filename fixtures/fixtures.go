package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed manifests/warmup.yaml
var WarmupManifest []byte
