package secretmanager

import (
	"context"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

func ProvideVault() (*vault.Client, error) {
	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// ReadKV reads a KV-v2 secret and returns its data map.
func ReadKV(ctx context.Context, client *vault.Client, mount, path string) (map[string]interface{}, error) {
	secret, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(mount))
	if err != nil {
		return nil, err
	}
	return secret.Data.Data, nil
}
