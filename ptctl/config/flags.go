// Copyright 2020 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"flag"
	"fmt"
	"reflect"

	"github.com/BurntSushi/toml"
	"gvisor.dev/pagetree/pkg/log"
	"gvisor.dev/pagetree/pkg/ptmem"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file with default settings. Flags given on the command line override it.")

	// Translation flags.
	flagSet.String("arch", "vmsav8-4k", "translation architecture: vmsav8-4k, vmsav8-16k or x86-64.")
	flagSet.String("codec", "aarch64", "page table entry encoding: aarch64 or x86.")
	memory := Bytes(4 << 30)
	flagSet.Var(&memory, "memory", "size of physical memory, with an optional K, M, G or T suffix.")
	flagSet.String("backing", ptmem.KindSparse, "word store for physical and page table memory: heap, sparse or mmap.")
	flagSet.Int("tables", 64, "number of page table slots, including the root.")
	flagSet.Int("tlb-capacity", 16, "number of translation cache entries, 0 disables the cache.")

	// Logging flags.
	level := log.Info
	flagSet.TextVar(&level, "log-level", log.Info, "minimum log level: warning, info or debug.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
}

// NewFromFlags creates a new Config with values coming from command line flags
// and the file named by --config, if any.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	if err := conf.setFlags(flagSet, flagSet.VisitAll); err != nil {
		return nil, err
	}

	if conf.ConfigFile != "" {
		if _, err := toml.DecodeFile(conf.ConfigFile, conf); err != nil {
			return nil, fmt.Errorf("reading %q: %w", conf.ConfigFile, err)
		}
		// Explicit flags win over the file.
		if err := conf.setFlags(flagSet, flagSet.Visit); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFlags copies the values of the flags enumerated by visit into the
// matching fields of c.
func (c *Config) setFlags(flagSet *flag.FlagSet, visit func(func(*flag.Flag))) error {
	fields := make(map[string]int)
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			fields[name] = i
		}
	}
	var err error
	visit(func(fl *flag.Flag) {
		i, ok := fields[fl.Name]
		if !ok || err != nil {
			return
		}
		getter, ok := fl.Value.(flag.Getter)
		if !ok {
			err = fmt.Errorf("flag %q has no getter", fl.Name)
			return
		}
		x := reflect.ValueOf(getter.Get())
		field := obj.Field(i)
		// Text flags hold a pointer to their value.
		if x.Kind() == reflect.Pointer && x.Elem().Type().AssignableTo(field.Type()) {
			x = x.Elem()
		}
		if !x.Type().AssignableTo(field.Type()) {
			err = fmt.Errorf("flag %q of type %v does not fit field %v", fl.Name, x.Type(), field.Type())
			return
		}
		field.Set(x)
	})
	if err != nil {
		return err
	}
	for name := range fields {
		if flagSet.Lookup(name) == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := st.Field(i).Tag.Lookup("flag")
		if !ok {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		val := getVal(obj.Field(i))
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

// getVal returns the flag form of a field value.
func getVal(field reflect.Value) string {
	if field.CanAddr() {
		if s, ok := field.Addr().Interface().(flag.Value); ok {
			return s.String()
		}
	}
	if m, ok := field.Interface().(interface{ MarshalText() ([]byte, error) }); ok {
		if b, err := m.MarshalText(); err == nil {
			return string(b)
		}
	}
	return fmt.Sprintf("%v", field.Interface())
}

// Log logs the value of every flag backed field of c.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			log.Infof("  %s: %s", name, getVal(obj.Field(i)))
		}
	}
}
