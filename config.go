package wu

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"github.com/tidwall/gjson"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// ProjectConfig is the typed record describing a microfrontend project: the
// shell that hosts every micro-app plus the ordered list of micro-apps
// themselves.
//
// It is loaded once per run and treated as read-mostly afterwards. The
// watcher may produce replacement snapshots on configuration changes; old
// snapshots are retained until shutdown so that any in-flight request
// holding entries from one remains valid.
type ProjectConfig struct {
	// Name is the project name.
	//
	// Default value: base name of the project root
	Name string `mapstructure:"name"`

	// Version is the project version, retained for display only.
	//
	// Default value: "0.0.0"
	Version string `mapstructure:"version"`

	// Shell is the outer page that hosts all micro-apps.
	Shell ShellEntry `mapstructure:"shell"`

	// Apps is the ordered list of micro-apps.
	Apps []AppEntry `mapstructure:"apps"`

	// Proxy carries the unified endpoint settings.
	Proxy ProxyEntry `mapstructure:"proxy"`
}

// ShellEntry describes the shell of a microfrontend project.
type ShellEntry struct {
	// Dir is the on-disk directory of the shell, relative to the project
	// root.
	//
	// Default value: "shell"
	Dir string `mapstructure:"dir"`

	// Port is the port the shell's own dev server originally used,
	// retained for display only.
	//
	// Default value: 4321
	Port uint16 `mapstructure:"port"`

	// Framework is the framework tag of the shell.
	//
	// Default value: "vanilla"
	Framework string `mapstructure:"framework"`
}

// AppEntry describes a single micro-app.
type AppEntry struct {
	// Name is the display name of the micro-app.
	Name string `mapstructure:"name"`

	// Dir is the on-disk directory of the micro-app, relative to the
	// project root.
	Dir string `mapstructure:"dir"`

	// Framework is the framework tag driving the micro-app.
	Framework string `mapstructure:"framework"`

	// Port is the port the micro-app's own dev server originally used,
	// retained for display only.
	Port uint16 `mapstructure:"port"`
}

// ProxyEntry describes the unified endpoint of a microfrontend project.
type ProxyEntry struct {
	// Port is the port the unified dev server listens on.
	//
	// Default value: 3000
	Port uint16 `mapstructure:"port"`

	// OpenBrowser indicates whether a browser should be opened on start.
	//
	// Default value: false
	OpenBrowser bool `mapstructure:"open_browser"`
}

// configFileNames are the recognized configuration file names at the project
// root, probed in order.
var configFileNames = []string{
	"wu.config.json",
	"wu.config.toml",
	"wu.config.yaml",
	"wu.config.yml",
	"wu.config.ini",
}

// defaultProjectConfig returns a new instance of the `ProjectConfig` with
// default field values for the project at the root.
func defaultProjectConfig(root string) *ProjectConfig {
	name := filepath.Base(root)
	if name == "." || name == string(filepath.Separator) {
		if wd, err := os.Getwd(); err == nil {
			name = filepath.Base(wd)
		}
	}

	return &ProjectConfig{
		Name:    name,
		Version: "0.0.0",
		Shell: ShellEntry{
			Dir:       "shell",
			Port:      4321,
			Framework: "vanilla",
		},
		Proxy: ProxyEntry{
			Port: 3000,
		},
	}
}

// LoadProjectConfig loads the project configuration from the root.
//
// It probes the `configFileNames` in order and parses the first one that
// exists by its extension. Unknown keys are ignored. When no configuration
// file exists, the project layout is discovered by scanning the root's
// immediate subdirectories.
func LoadProjectConfig(root string) (*ProjectConfig, error) {
	for _, name := range configFileNames {
		p := filepath.Join(root, name)
		b, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		return parseProjectConfig(b, filepath.Ext(name), root)
	}

	return discoverProjectConfig(root)
}

// parseProjectConfig parses the b by the ext into a `ProjectConfig` for the
// project at the root.
func parseProjectConfig(b []byte, ext, root string) (*ProjectConfig, error) {
	m := map[string]interface{}{}

	var err error
	switch strings.ToLower(ext) {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".toml":
		err = toml.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	case ".ini":
		var f *ini.File
		if f, err = ini.Load(b); err == nil {
			for _, sec := range f.Sections() {
				sm := map[string]interface{}{}
				for _, k := range sec.Keys() {
					sm[k.Name()] = k.Value()
				}

				if sec.Name() == ini.DefaultSection {
					for k, v := range sm {
						m[k] = v
					}
				} else {
					m[sec.Name()] = sm
				}
			}
		}
	default:
		err = fmt.Errorf(
			"wu: unsupported configuration file extension: %s",
			ext,
		)
	}

	if err != nil {
		return nil, err
	}

	pc := defaultProjectConfig(root)
	dc, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           pc,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}

	if err := dc.Decode(m); err != nil {
		return nil, err
	}

	return pc, nil
}

// appConfigFileNames are the files whose presence marks an immediate
// subdirectory of the project root as a micro-app during discovery.
var appConfigFileNames = []string{
	"vite.config.js",
	"vite.config.ts",
	"vite.config.mjs",
	"astro.config.mjs",
	"astro.config.ts",
}

// frameworkDependencyTable maps a package.json dependency substring to the
// framework tag it implies. Probed in order; the first match wins.
var frameworkDependencyTable = []struct {
	dependency string
	framework  string
}{
	{"react", "react"},
	{"vue", "vue"},
	{"@angular/core", "angular"},
	{"svelte", "svelte"},
	{"solid-js", "solid"},
	{"preact", "preact"},
	{"lit", "lit"},
	{"astro", "astro"},
}

// discoverProjectConfig synthesizes a `ProjectConfig` for the project at
// the root by scanning its immediate subdirectories.
func discoverProjectConfig(root string) (*ProjectConfig, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	pc := defaultProjectConfig(root)

	nextPort := uint16(5001)
	for _, name := range names {
		dir := filepath.Join(root, name)

		var configFile string
		for _, cfn := range appConfigFileNames {
			if _, err := os.Stat(filepath.Join(dir, cfn)); err == nil {
				configFile = filepath.Join(dir, cfn)
				break
			}
		}

		if configFile == "" {
			continue
		}

		port := uint16(0)
		if b, err := os.ReadFile(configFile); err == nil {
			port = scanPort(b)
		}

		if port == 0 {
			port = nextPort
			nextPort++
		}

		pc.Apps = append(pc.Apps, AppEntry{
			Name:      name,
			Dir:       name,
			Framework: inferFramework(dir),
			Port:      port,
		})
	}

	return pc, nil
}

// inferFramework infers the framework tag of the micro-app at the dir from
// the dependencies in its package.json.
func inferFramework(dir string) string {
	b, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "vanilla"
	}

	deps := gjson.GetBytes(b, "dependencies").Raw +
		gjson.GetBytes(b, "devDependencies").Raw
	for _, fd := range frameworkDependencyTable {
		if strings.Contains(deps, `"`+fd.dependency) {
			return fd.framework
		}
	}

	return "vanilla"
}

// scanPort scans the b for a "port: NNNN" assignment and returns the port,
// or zero when none is found.
func scanPort(b []byte) uint16 {
	s := string(b)
	for i := 0; ; {
		j := strings.Index(s[i:], "port")
		if j < 0 {
			return 0
		}

		k := i + j + len("port")
		for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
			k++
		}

		if k >= len(s) || s[k] != ':' {
			i = i + j + len("port")
			continue
		}

		k++
		for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
			k++
		}

		port := 0
		digits := 0
		for k < len(s) && s[k] >= '0' && s[k] <= '9' {
			port = port*10 + int(s[k]-'0')
			digits++
			k++
		}

		if digits > 0 && port > 0 && port < 65536 {
			return uint16(port)
		}

		i = k
	}
}

// frameworkColors maps a framework tag to the hex color shown for it in the
// shell's app switcher.
var frameworkColors = map[string]string{
	"react":    "#61dafb",
	"vue":      "#42b883",
	"svelte":   "#ff3e00",
	"solid":    "#2c4f7c",
	"preact":   "#673ab8",
	"lit":      "#324fff",
	"angular":  "#dd0031",
	"alpine":   "#8bc0d0",
	"qwik":     "#ac7ef4",
	"stencil":  "#4c48ff",
	"htmx":     "#3366cc",
	"stimulus": "#77e8b9",
	"astro":    "#ff5d01",
	"vanilla":  "#f7df1e",
}

// frameworkColor returns the hex color for the framework tag.
func frameworkColor(framework string) string {
	if c, ok := frameworkColors[framework]; ok {
		return c
	}

	return "#888888"
}

// frameworkEntryExt returns the entry-file extension (without the dot) for
// the framework tag.
func frameworkEntryExt(framework string) string {
	switch framework {
	case "react", "preact", "solid", "qwik":
		return "jsx"
	case "angular":
		return "ts"
	}

	return "js"
}
