package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the rules spanning several fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag()+paramSuffix(fe), fe.Value()))
			}
			return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
		}
		return err
	}

	if cfg.Server.UserIDRequired && cfg.Server.Password == "" {
		return fmt.Errorf("server.user_id_required needs server.password")
	}
	if cfg.Client.Transport == "rfcomm" && cfg.Client.Channel == 0 {
		return fmt.Errorf("client.channel is required for the rfcomm transport")
	}
	return nil
}

func paramSuffix(fe validator.FieldError) string {
	if fe.Param() == "" {
		return ""
	}
	return "=" + fe.Param()
}
