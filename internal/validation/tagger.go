package validation

import (
	"path/filepath"
	"sort"
	"strings"

	"docvault/internal/model"
)

type keywordRule struct {
	keywords []string
	tags     []string
	category model.Category
}

// Rules are checked in order; the first rule that matches picks the category.
var keywordRules = []keywordRule{
	{keywords: []string{"agreement", "contract", "note", "deed"}, tags: []string{"agreement", "legal"}, category: model.CategoryLegal},
	{keywords: []string{"loan", "application", "mortgage"}, tags: []string{"loan"}, category: model.CategoryLoan},
	{keywords: []string{"tax", "w2", "w-2", "1099"}, tags: []string{"tax"}, category: model.CategoryTax},
	{keywords: []string{"bank", "statement", "paystub", "payslip", "income"}, tags: []string{"financial"}, category: model.CategoryFinancial},
	{keywords: []string{"appraisal", "title", "collateral", "inspection"}, tags: []string{"collateral"}, category: model.CategoryCollateral},
	{keywords: []string{"kyc", "aml", "disclosure", "compliance"}, tags: []string{"compliance"}, category: model.CategoryCompliance},
	{keywords: []string{"insurance", "policy"}, tags: []string{"insurance"}},
	{keywords: []string{"passport", "license", "identity", "id-card"}, tags: []string{"identity"}},
}

// Tagger suggests tags and a category from a file name.
type Tagger struct{}

// NewTagger returns a Tagger.
func NewTagger() *Tagger { return &Tagger{} }

// SuggestTags returns sorted, de-duplicated tags for fileName. The extension is always included.
func (Tagger) SuggestTags(fileName string) []string {
	lower := strings.ToLower(fileName)
	set := make(map[string]struct{})
	if ext := strings.TrimPrefix(filepath.Ext(lower), "."); ext != "" {
		set[ext] = struct{}{}
	}
	for _, r := range keywordRules {
		if matchesAny(lower, r.keywords) {
			for _, t := range r.tags {
				set[t] = struct{}{}
			}
		}
	}

	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// InferCategory returns the category of the first matching rule, or other.
func (Tagger) InferCategory(fileName string) model.Category {
	lower := strings.ToLower(fileName)
	for _, r := range keywordRules {
		if r.category != "" && matchesAny(lower, r.keywords) {
			return r.category
		}
	}
	return model.CategoryOther
}

func matchesAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
