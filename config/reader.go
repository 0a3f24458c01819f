package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// Read reads an estimator config from the given file, expanding environment variables first.
func Read(filePath string) (*Estimator, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(originalPath string, r io.Reader) (*Estimator, error) {
	conf := Estimator{ConfigFilePath: originalPath}
	if err := json.NewDecoder(r).Decode(&conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json")
	}
	if err := conf.Validate("estimator"); err != nil {
		return nil, err
	}
	return &conf, nil
}

// FromAttributes converts a loosely typed attribute map, such as one embedded in a larger
// config, into a validated Estimator.
func FromAttributes(attributes map[string]interface{}) (*Estimator, error) {
	var conf Estimator
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{TagName: "json", Result: &conf})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, err
	}
	if err := conf.Validate("attributes"); err != nil {
		return nil, err
	}
	return &conf, nil
}
