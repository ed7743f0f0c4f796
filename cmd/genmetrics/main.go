// Copyright 2023 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command genmetrics generates the typed metric declarations of
// package metrics from a YAML definition file.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"go/token"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/era/errors"
	"gopkg.in/yaml.v2"
)

func convertToPascalCase(id string) string {
	result := strings.ToUpper(string(id[0]))
	makeNextUpper := false
	for i := range id[1:] {
		substr := id[i+1 : i+2]
		if substr == "_" {
			makeNextUpper = true
		} else {
			if makeNextUpper {
				substr = strings.ToUpper(substr)
				makeNextUpper = false
			}
			result += substr
		}
	}
	return result
}

func convertHelpToCommentFmt(help string) string {
	help = strings.TrimSpace(help)
	return strings.ToLower(help[0:1]) + help[1:len(help)-1]
}

// paramName returns the getter parameter name for a label. Labels
// that are Go keywords are abbreviated.
func paramName(label string) string {
	if token.IsKeyword(label) {
		return label[:3]
	}
	return label
}

var idRe = regexp.MustCompile(`^[a-z][a-z_]*[a-z]$`)
var helpRe = regexp.MustCompile(`^[A-Z][^"\n]*\.$`)

type confRoot map[string]metricConf

type metricConf struct {
	Type    string
	Help    string
	Buckets []float64 // Only allowed for histogram type metrics.
	Labels  []string
}

// validate returns an error if the metric definition is malformed.
func (m metricConf) validate(name string) error {
	if !idRe.MatchString(name) {
		return errors.E("genmetrics.validate", name, errors.Invalid,
			errors.Errorf("metric name must match %s", idRe))
	}
	switch m.Type {
	case "counter", "gauge", "histogram":
	default:
		return errors.E("genmetrics.validate", name, errors.Invalid,
			errors.Errorf("unknown metric type %s, must be one of {counter,gauge,histogram}", m.Type))
	}
	if !helpRe.MatchString(m.Help) {
		return errors.E("genmetrics.validate", name, errors.Invalid,
			errors.Errorf("invalid help text %q", m.Help))
	}
	for _, l := range m.Labels {
		if !idRe.MatchString(l) {
			return errors.E("genmetrics.validate", name, errors.Invalid,
				errors.Errorf("label %s is incorrectly formatted", l))
		}
	}
	if m.Buckets != nil && m.Type != "histogram" {
		return errors.E("genmetrics.validate", name, errors.Invalid,
			errors.Errorf("buckets are only allowed for histograms, not %s", m.Type))
	}
	return nil
}

// printVarDefToGen prints a {metricType}Opt definition to the generator. These definitions
// are used by clients to initialize metric backing stores.
func (m metricConf) printVarDefToGen(name string, gen *generator) {
	gen.Printf("		\"%s\": {\n", name)
	if m.Help != "" {
		gen.Printf("			Help: \"%s\",\n", m.Help)
	}
	if len(m.Labels) != 0 {
		ls := make([]string, len(m.Labels))
		for i, l := range m.Labels {
			ls[i] = strconv.Quote(l)
		}
		gen.Printf("			Labels: []string{%s},\n", strings.Join(ls, ","))
	}
	if len(m.Buckets) != 0 {
		bs := make([]string, len(m.Buckets))
		for i, b := range m.Buckets {
			bs[i] = strconv.FormatFloat(b, 'f', -1, 64)
		}
		gen.Printf("			Buckets: []float64{%s},\n", strings.Join(bs, ","))
	}
	gen.Printf("		},\n")
}

// printGetterToGen prints a getter for the metric to the generator.
// Getters take the client and one argument per label, so that metric
// and label names are checked at compile time.
func (m metricConf) printGetterToGen(name string, gen *generator) {
	typ := convertToPascalCase(m.Type)
	fnName := fmt.Sprintf("Get%s%s", convertToPascalCase(name), typ)
	gen.Printf("// %s returns a %s to set metric %s", fnName, typ, name)
	if m.Help != "" {
		gen.Printf(" (%s)", convertHelpToCommentFmt(m.Help))
	}
	gen.Printf(".\n")

	gen.Printf("func %s(c Client", fnName)
	if len(m.Labels) != 0 {
		for _, l := range m.Labels {
			gen.Printf(", %s", paramName(l))
		}
		gen.Printf(" string")
	}
	gen.Printf(") %s {\n", typ)

	labelDict := "nil"
	if len(m.Labels) != 0 {
		assns := make([]string, len(m.Labels))
		for i, l := range m.Labels {
			assns[i] = fmt.Sprintf("%q: %s", l, paramName(l))
		}
		labelDict = fmt.Sprintf("map[string]string{%s}", strings.Join(assns, ", "))
	}
	gen.Printf("	return get%s(c, \"%s\", %s)\n", typ, name, labelDict)
	gen.Printf("}\n\n")
}

// generate parses the definitions in r and returns the formatted
// source of the package named pkg.
func generate(r io.Reader, pkg string) ([]byte, error) {
	var conf confRoot
	if err := yaml.NewDecoder(r).Decode(&conf); err != nil {
		return nil, errors.E("genmetrics.decode", err)
	}
	byType := map[string][]string{}
	for name, def := range conf {
		if err := def.validate(name); err != nil {
			return nil, err
		}
		byType[def.Type] = append(byType[def.Type], name)
	}
	for _, names := range byType {
		sort.Strings(names)
	}

	gen := &generator{}
	gen.Printf("// Copyright 2023 GRAIL, Inc. All rights reserved.\n")
	gen.Printf("// Use of this source code is governed by the Apache 2.0\n")
	gen.Printf("// license that can be found in the LICENSE file.\n")
	gen.Printf("\n")
	// (@g...) hides generated code in Differential.
	gen.Printf("// THIS FILE WAS AUTOMATICALLY GENERATED (@" + "generated). DO NOT EDIT.\n")
	gen.Printf("\n")
	gen.Printf("package %s\n\n", pkg)

	// Declarations used by clients during initialization.
	gen.Printf("var (\n")
	for _, v := range []struct{ typ, decl string }{
		{"counter", "Counters = map[string]counterOpts"},
		{"gauge", "Gauges = map[string]gaugeOpts"},
		{"histogram", "Histograms = map[string]histogramOpts"},
	} {
		gen.Printf("	%s{\n", v.decl)
		for _, name := range byType[v.typ] {
			conf[name].printVarDefToGen(name, gen)
		}
		gen.Printf("	}\n")
	}
	gen.Printf(")\n\n")

	for _, typ := range []string{"counter", "gauge", "histogram"} {
		for _, name := range byType[typ] {
			conf[name].printGetterToGen(name, gen)
		}
	}
	return gen.Gofmt()
}

var (
	stdout = flag.Bool("stdout", false, "print the package to stdout instead of materializing it")
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: genmetrics defpath dstpackage

genmetrics reads a metrics definition file at defpath and generates
metrics.go in the package directory dstpackage, providing typed
getters for every metric.
`)
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("genmetrics: ")
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
	}

	defpath, dstpackage := flag.Arg(0), flag.Arg(1)
	f, err := os.Open(defpath)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	src, err := generate(f, filepath.Base(dstpackage))
	if err != nil {
		log.Fatal(err)
	}
	if *stdout {
		os.Stdout.Write(src)
		return
	}
	path := filepath.Join(dstpackage, "metrics.go")
	if err := ioutil.WriteFile(path, src, 0644); err != nil {
		log.Fatal(err)
	}
}

type generator struct {
	buf bytes.Buffer
}

func (g *generator) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&g.buf, format, args...)
}

func (g *generator) Gofmt() ([]byte, error) {
	src, err := format.Source(g.buf.Bytes())
	if err != nil {
		return nil, errors.E("genmetrics.gofmt", errors.Errorf("generated code is invalid: %v\n%s", err, g.buf.String()))
	}
	return src, nil
}
