package policy

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"medbill-verify/internal/errors"
)

// policyFile is the HCL layout of a policy override file:
//
//	skip = ["hospital", "misc"]
//
//	category "medicines" {
//	  auto_threshold  = 0.8
//	  require_dosage  = true
//	  hard_boundaries = ["diagnostics", "procedures"]
//	}
type policyFile struct {
	Skip       []string         `hcl:"skip,optional"`
	Categories []categoryBlock `hcl:"category,block"`
}

type categoryBlock struct {
	Name            string    `hcl:"name,label"`
	AutoThreshold   *float64  `hcl:"auto_threshold,optional"`
	RequireDosage   *bool     `hcl:"require_dosage,optional"`
	RequireForm     *bool     `hcl:"require_form,optional"`
	RequireModality *bool     `hcl:"require_modality,optional"`
	RequireBodyPart *bool     `hcl:"require_body_part,optional"`
	AllowPartial    *bool     `hcl:"allow_partial,optional"`
	HardBoundaries  *[]string `hcl:"hard_boundaries,optional"`
}

// LoadFile applies the policy overrides in an HCL file on top of base.
// Attributes left out of a block keep the base value of that category.
func LoadFile(path string, base *Set) (*Set, error) {
	var file policyFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, errors.Input("decode policy file "+path, err)
	}
	return apply(base, file)
}

// LoadSource is LoadFile over in-memory HCL. filename picks the syntax (.hcl or .json).
func LoadSource(filename string, src []byte, base *Set) (*Set, error) {
	var file policyFile
	if err := hclsimple.Decode(filename, src, nil, &file); err != nil {
		return nil, errors.Input("decode policy source "+filename, err)
	}
	return apply(base, file)
}

func apply(base *Set, file policyFile) (*Set, error) {
	out := base.clone()
	out.Skip(file.Skip...)

	for _, blk := range file.Categories {
		name := canonical(blk.Name)
		var p CategoryPolicy
		if name == DefaultName {
			p = out.fallback
		} else {
			p = out.Lookup(name)
			if p.Name != name {
				// new category: start from the fallback thresholds
				p = out.fallback
				p.HardBoundaries = nil
			}
		}
		p.Name = name

		if blk.AutoThreshold != nil {
			if *blk.AutoThreshold < 0 || *blk.AutoThreshold > 1 {
				return nil, errors.Validationf("category %q: auto_threshold %.2f outside [0,1]", name, *blk.AutoThreshold)
			}
			p.AutoThreshold = *blk.AutoThreshold
		}
		setBool(&p.RequireDosage, blk.RequireDosage)
		setBool(&p.RequireForm, blk.RequireForm)
		setBool(&p.RequireModality, blk.RequireModality)
		setBool(&p.RequireBodyPart, blk.RequireBodyPart)
		setBool(&p.AllowPartial, blk.AllowPartial)
		if blk.HardBoundaries != nil {
			p.HardBoundaries = nil
			for _, b := range *blk.HardBoundaries {
				p.HardBoundaries = append(p.HardBoundaries, canonical(b))
			}
		}
		out.Put(p)
	}
	return out, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (s *Set) clone() *Set {
	out := &Set{
		policies: make([]CategoryPolicy, len(s.policies)),
		fallback: s.fallback,
		skip:     make(map[string]bool, len(s.skip)),
	}
	for i, p := range s.policies {
		p.HardBoundaries = append([]string(nil), p.HardBoundaries...)
		out.policies[i] = p
	}
	for k, v := range s.skip {
		out.skip[k] = v
	}
	return out
}
