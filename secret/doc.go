// Package secret resolves provider credentials from configuration values.
//
// Values are first expanded against the environment (see ExpandEnvStrict)
// and then any "secretref:<provider>:<ref>" reference is resolved through
// a registered Provider:
//
//	r := secret.NewResolver(true, secret.EnvProvider{}, secret.FileProvider{Dir: "/run/secrets"})
//	key, err := r.Resolve(ctx, "secretref:env:PERPLEXITY_API_KEY")
//	header, err := r.Resolve(ctx, "Bearer secretref:file:serper_key")
package secret
