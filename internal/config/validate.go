package config

import "fmt"

// Validate checks a parsed Config against the server's structural
// invariants: required directives (host, listen, root), error_page code
// range, location paths starting with '/'. The listen port range itself is
// checked by the parser. It returns a *Error with Kind == KindValidation on
// the first violation. Duplicate server_name and location declarations do
// not fail the load and are not reported.
func Validate(cfg *Config, file string) error {
	if len(cfg.Servers) == 0 {
		return nil
	}

	seenNames := map[string]map[string]int{}

	for i, s := range cfg.Servers {
		if s.Host == "" {
			return &Error{File: file, Msg: fmt.Sprintf("validation: missing required 'host' in server #%d", i+1), Kind: KindValidation}
		}
		if s.Port == 0 {
			return &Error{File: file, Msg: fmt.Sprintf("validation: missing required 'listen' in server #%d", i+1), Kind: KindValidation}
		}
		if s.Root == "" {
			return &Error{File: file, Msg: fmt.Sprintf("validation: missing required 'root' in server #%d", i+1), Kind: KindValidation}
		}

		for code := range s.ErrorPages {
			if code < 100 || code > 599 {
				return &Error{File: file, Msg: fmt.Sprintf("validation: error_page code out of range (100..599) in server #%d", i+1), Kind: KindValidation}
			}
		}

		bindKey := s.BindKey()
		for _, name := range s.ServerNames {
			nm := asciiLower(name)
			if nm == "" {
				continue
			}
			bucket, ok := seenNames[bindKey]
			if !ok {
				bucket = map[string]int{}
				seenNames[bindKey] = bucket
			}
			if _, dup := bucket[nm]; !dup {
				bucket[nm] = i
			}
		}

		seenLocs := map[string]int{}
		for j, loc := range s.Locations {
			if loc.Path == "" || loc.Path[0] != '/' {
				return &Error{File: file, Msg: fmt.Sprintf("validation: location path must start with '/' in server #%d", i+1), Kind: KindValidation}
			}
			if _, dup := seenLocs[loc.Path]; !dup {
				seenLocs[loc.Path] = j
			}
		}
	}
	return nil
}
