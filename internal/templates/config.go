package templates

import "os"

const configTemplate = `
environment: dev
model_name: PAI_model_T
model_format: H5_SF
model_extensions: ['FixedDropout']
model_info_max_age: 4h

feed:
  url: "https://api.github.com/repos/Aydinhamedi/Pneumonia-Detection-Ai/releases/latest"
  model_asset: PAI_model_T.h5
  light_model_asset: PAI_model_light_T.h5
  model_info_asset: model_info.json
  chunk_size: 1024
  catalog_ttl: 1h
  timeout: 30s

predict:
  low_confidence: 0.82
  sensitivity: 2
  target_layer: top_activation
  second_layer: top_conv

train:
  default_epochs: 4
  min_samples: 15
  warn_on_invalid_epochs: true

gui:
  tick: 100ms
  model_info_refresh: 15s
  queue_capacity: 128

cli:
  queue_capacity: 128
  history_limit: 10
`

const envTemplate = `# PDAI_ENVIRONMENT=dev
# PDAI_FEED_URL=
# PDAI_MODEL_FORMAT=H5_SF
`

func GetConfigTemplate() string {
	return configTemplate
}

func GetEnvTemplate() string {
	return envTemplate
}

func WriteConfig(path string) error {
	return writeFile(path, GetConfigTemplate())
}

func WriteEnv(path string) error {
	return writeFile(path, GetEnvTemplate())
}

func writeFile(path, contents string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.WriteString(contents)
	return err
}
