package proxy

// SupportOriginGlobal is the JavaScript global the gateway assigns the
// support service origin to on every rewritten page. Support tooling reads
// it to find its backend.
const SupportOriginGlobal = "__DEV_SESSION_SUPPORT_ORIGIN__"

// InjectionFragment is one named piece of markup added to proxied HTML
// pages. Fragments are applied in configuration order, fragments with
// empty markup are skipped.
type InjectionFragment struct {
	Name   string `yaml:"name"`
	Markup string `yaml:"markup"`
}

// Configuration is the immutable setup of one gateway. Build it once and
// hand it to NewGateway, nothing mutates it afterwards.
type Configuration struct {
	// BindHost is the local interface the gateway listens on
	BindHost string

	// TargetOrigin is the application service origin requests are forwarded to
	TargetOrigin string

	// SupportOrigin is the support service origin announced to injected scripts
	SupportOrigin string

	// AssetPaths are script paths loaded from the support origin on every page
	AssetPaths []string

	// Fragments is extra markup injected after the asset scripts
	Fragments []InjectionFragment
}
