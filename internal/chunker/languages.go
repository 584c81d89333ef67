package chunker

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// languageSpec binds a tree-sitter grammar to the node kinds worth emitting
// as chunks. Node kinds absent from the allow map are walked through.
type languageSpec struct {
	name     string
	language *sitter.Language
	// allow maps a CST node kind to the chunk_type it produces.
	allow map[string]string
}

// languageRegistry maps file extensions to grammars at compile time. The
// original design resolved grammar modules by name at runtime; a fixed
// registry keeps symbol resolution out of the picture entirely.
var languageRegistry = map[string]*languageSpec{
	".go": {
		name:     "go",
		language: golang.GetLanguage(),
		allow: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_declaration":     "type",
			"const_declaration":    "const",
			"var_declaration":      "var",
		},
	},
	".py": {
		name:     "python",
		language: python.GetLanguage(),
		allow: map[string]string{
			"function_definition":  "function",
			"class_definition":     "class",
			"decorated_definition": "function",
		},
	},
	".rs": {
		name:     "rust",
		language: rust.GetLanguage(),
		allow: map[string]string{
			"function_item": "function",
			"struct_item":   "struct",
			"enum_item":     "enum",
			"trait_item":    "trait",
			"impl_item":     "impl",
			"mod_item":      "module",
		},
	},
	".js": {
		name:     "javascript",
		language: javascript.GetLanguage(),
		allow: map[string]string{
			"function_declaration": "function",
			"class_declaration":    "class",
			"method_definition":    "method",
		},
	},
	".jsx": {
		name:     "javascript",
		language: javascript.GetLanguage(),
		allow: map[string]string{
			"function_declaration": "function",
			"class_declaration":    "class",
			"method_definition":    "method",
		},
	},
	".ts": {
		name:     "typescript",
		language: typescript.GetLanguage(),
		allow: map[string]string{
			"function_declaration":  "function",
			"class_declaration":     "class",
			"method_definition":     "method",
			"interface_declaration": "interface",
			"enum_declaration":      "enum",
		},
	},
	".tsx": {
		name:     "typescript",
		language: typescript.GetLanguage(),
		allow: map[string]string{
			"function_declaration":  "function",
			"class_declaration":     "class",
			"method_definition":     "method",
			"interface_declaration": "interface",
		},
	},
}

// specForPath returns the language spec for a file, or nil for unrecognized
// extensions (those fall back to whole-file chunks).
func specForPath(path string) *languageSpec {
	return languageRegistry[normalizeExt(path)]
}
