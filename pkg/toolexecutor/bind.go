package toolexecutor

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/harun/tradegate/pkg/apperr"
)

// Bind decodes validated params into dst using its json tags
func Bind(params map[string]interface{}, dst interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return apperr.InvalidRequest("invalid arguments: %v", err)
	}
	return nil
}
