// Package schemafile loads graph type declarations from HCL documents.
//
// A declaration file describes variants, their data and link fields, group
// memberships, bidirectional pairs, and link-type constraints:
//
//	variant "Factory" {
//	  groups = ["industrial"]
//
//	  data "name" { type = "string" }
//	  data "capacity" {
//	    type    = "int"
//	    default = 100
//	  }
//
//	  link "workers" {
//	    shape  = "set"
//	    groups = ["staff"]
//	  }
//	  link "owner" { shape = "single" }
//	}
//
//	bidirectional {
//	  a = "Factory.workers"
//	  b = "Worker.factory"
//	}
//
//	link_type {
//	  field   = "Factory.workers"
//	  targets = ["Worker"]
//	}
//
// Compile builds a graph.Registry whose node values are *graph.Record, so
// an HCL-declared schema needs no generated Go code. Either component of a
// pair or link_type selector may be group-prefixed ("group:machines.peers");
// group forms expand at declaration time.
package schemafile

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/askrdb/askr/pkg/graph"
	"github.com/askrdb/askr/pkg/log"
)

// File is the top-level structure of one declaration document.
type File struct {
	Variants       []*VariantBlock       `hcl:"variant,block"`
	Bidirectionals []*BidirectionalBlock `hcl:"bidirectional,block"`
	LinkTypes      []*LinkTypeBlock      `hcl:"link_type,block"`
}

// VariantBlock declares one node variant.
type VariantBlock struct {
	Name   string       `hcl:"name,label"`
	Groups []string     `hcl:"groups,optional"`
	Data   []*DataBlock `hcl:"data,block"`
	Links  []*LinkBlock `hcl:"link,block"`
}

// DataBlock declares one scalar data field.
type DataBlock struct {
	Name    string     `hcl:"name,label"`
	Type    string     `hcl:"type"`
	Default *cty.Value `hcl:"default,optional"`
}

// LinkBlock declares one link field.
type LinkBlock struct {
	Name   string   `hcl:"name,label"`
	Shape  string   `hcl:"shape"`
	Groups []string `hcl:"groups,optional"`
}

// BidirectionalBlock declares one symmetric pair.
type BidirectionalBlock struct {
	A string `hcl:"a"`
	B string `hcl:"b"`
}

// LinkTypeBlock declares the permitted target variants of a link field.
type LinkTypeBlock struct {
	Field   string   `hcl:"field"`
	Targets []string `hcl:"targets"`
}

// DecodeFile parses and decodes a single HCL declaration file.
func DecodeFile(path string) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %s", path, diags.Error())
	}

	var f File
	diags = gohcl.DecodeBody(hclFile.Body, nil, &f)
	if diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %s", path, diags.Error())
	}
	log.Debug("decoded schema file", map[string]any{
		"path":     path,
		"variants": len(f.Variants),
	})
	return &f, nil
}

// Discover returns every declaration file under dir matching **/*.graph.hcl,
// sorted for deterministic load order.
func Discover(dir string) ([]string, error) {
	paths, err := doublestar.FilepathGlob(dir + "/**/*.graph.hcl")
	if err != nil {
		return nil, fmt.Errorf("globbing %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadDir discovers, decodes, and compiles every declaration file under dir
// into one registry.
func LoadDir(dir string) (*graph.Registry, error) {
	paths, err := Discover(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *.graph.hcl files under %s", dir)
	}
	files := make([]*File, 0, len(paths))
	for _, p := range paths {
		f, err := DecodeFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return Compile(files...)
}

// Compile builds a registry from decoded declaration files. Variants from
// every file register first so that pairs and link types can reference
// variants across files; pairs and link types then apply in file order.
func Compile(files ...*File) (*graph.Registry, error) {
	reg := graph.NewRegistry()

	for _, f := range files {
		for _, vb := range f.Variants {
			spec, err := compileVariant(vb)
			if err != nil {
				return nil, err
			}
			if err := reg.Register(spec); err != nil {
				return nil, err
			}
		}
	}
	for _, f := range files {
		for _, bb := range f.Bidirectionals {
			if err := reg.Bidirectional(bb.A, bb.B); err != nil {
				return nil, err
			}
		}
		for _, lt := range f.LinkTypes {
			if err := reg.LinkType(lt.Field, lt.Targets...); err != nil {
				return nil, err
			}
		}
	}
	return reg, nil
}

func compileVariant(vb *VariantBlock) (graph.VariantSpec, error) {
	var data []graph.RecordDataDecl
	for _, db := range vb.Data {
		tag, err := typeTag(db.Type)
		if err != nil {
			return graph.VariantSpec{}, fmt.Errorf("variant %s data %s: %w", vb.Name, db.Name, err)
		}
		var def any
		if db.Default != nil {
			def, err = goValue(*db.Default, tag)
			if err != nil {
				return graph.VariantSpec{}, fmt.Errorf("variant %s data %s default: %w", vb.Name, db.Name, err)
			}
		}
		data = append(data, graph.RecordDataDecl{Name: db.Name, Type: tag, Default: def})
	}

	var links []graph.RecordLinkDecl
	for _, lb := range vb.Links {
		shape, err := linkShape(lb.Shape)
		if err != nil {
			return graph.VariantSpec{}, fmt.Errorf("variant %s link %s: %w", vb.Name, lb.Name, err)
		}
		links = append(links, graph.RecordLinkDecl{Name: lb.Name, Shape: shape, Groups: lb.Groups})
	}

	return graph.RecordVariant(graph.VariantTag(vb.Name), vb.Groups, data, links), nil
}

func typeTag(s string) (graph.TypeTag, error) {
	switch s {
	case "string":
		return graph.TypeString, nil
	case "int":
		return graph.TypeInt, nil
	case "float":
		return graph.TypeFloat, nil
	case "bool":
		return graph.TypeBool, nil
	}
	return "", fmt.Errorf("unknown data type %q (want string, int, float, or bool)", s)
}

func linkShape(s string) (graph.LinkShape, error) {
	switch s {
	case "single":
		return graph.Single, nil
	case "ordered":
		return graph.Ordered, nil
	case "set":
		return graph.Set, nil
	}
	return 0, fmt.Errorf("unknown link shape %q (want single, ordered, or set)", s)
}

// goValue converts a cty default literal to the Go value matching the
// declared type tag.
func goValue(v cty.Value, tag graph.TypeTag) (any, error) {
	switch tag {
	case graph.TypeString:
		if v.Type() != cty.String {
			return nil, fmt.Errorf("default is %s, field is string", v.Type().FriendlyName())
		}
		return v.AsString(), nil
	case graph.TypeInt:
		if v.Type() != cty.Number {
			return nil, fmt.Errorf("default is %s, field is int", v.Type().FriendlyName())
		}
		i, acc := v.AsBigFloat().Int64()
		if acc != big.Exact {
			return nil, fmt.Errorf("default %s is not an integer", v.AsBigFloat().String())
		}
		return i, nil
	case graph.TypeFloat:
		if v.Type() != cty.Number {
			return nil, fmt.Errorf("default is %s, field is float", v.Type().FriendlyName())
		}
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case graph.TypeBool:
		if v.Type() != cty.Bool {
			return nil, fmt.Errorf("default is %s, field is bool", v.Type().FriendlyName())
		}
		return v.True(), nil
	}
	return nil, fmt.Errorf("unsupported type tag %s", tag)
}
