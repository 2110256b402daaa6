package config

import (
	"os"
	"strconv"
)

// ParseFile reads path and parses it into a Config, or returns a *Error
// whose Kind distinguishes a syntax problem from a file-read failure.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{File: path, Msg: "cannot open configuration file: " + err.Error(), Kind: KindIO}
	}
	cfg, perr := Parse(string(data), path)
	if perr != nil {
		return nil, perr
	}
	if verr := Validate(cfg, path); verr != nil {
		return nil, verr
	}
	return cfg, nil
}

type parser struct {
	lx   *lexer
	look token
	file string
}

// Parse parses src (the contents of a config file named file for error
// messages) into a Config. Apart from rejecting a listen port outside
// 1..65535 with a KindValidation error, it does not run validation; callers
// that want the other exit-code-4 validation errors should call Validate or
// use ParseFile.
func Parse(src, file string) (cfg *Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			if perr, ok := r.(*Error); ok {
				err = perr
				return
			}
			panic(r)
		}
	}()

	p := &parser{lx: newLexer(src), file: file}
	p.look = p.lx.next()

	out := &Config{}
	for p.look.typ != tokEOF {
		p.expectIdent("server")
		p.expect(tokLBrace)
		out.Servers = append(out.Servers, p.parseServerBlock())
	}
	if len(out.Servers) == 0 {
		p.fail(1, 1, "no server blocks found", KindSyntax)
	}
	return out, nil
}

func (p *parser) fail(line, col int, msg string, kind Kind) {
	panic(&Error{File: p.file, Line: line, Col: col, Msg: msg, Kind: kind})
}

func (p *parser) advance() { p.look = p.lx.next() }

func (p *parser) expect(t tokenType) {
	if p.look.typ != t {
		p.fail(p.look.line, p.look.col, "unexpected token '"+p.look.text+"'", KindSyntax)
	}
	p.advance()
}

func (p *parser) expectIdent(name string) {
	if !(p.look.typ == tokIdent && p.look.text == name) {
		p.fail(p.look.line, p.look.col, "expected '"+name+"'", KindSyntax)
	}
	p.advance()
}

func (p *parser) isScalar() bool {
	return p.look.typ == tokIdent || p.look.typ == tokString || p.look.typ == tokNumber
}

func (p *parser) toInt() int {
	v, _ := strconv.Atoi(p.look.text)
	return v
}

func (p *parser) toInt64() int64 {
	v, _ := strconv.ParseInt(p.look.text, 10, 64)
	return v
}

// toByteSize parses a client_max_body_size token: a bare number of bytes,
// or one with a trailing k/K (KiB) or m/M (MiB) unit suffix, per the
// "<bytes[k|m]>" grammar.
func (p *parser) toByteSize() int64 {
	text := p.look.text
	if n := len(text); n > 0 {
		switch text[n-1] {
		case 'k', 'K':
			v, _ := strconv.ParseInt(text[:n-1], 10, 64)
			return v * 1024
		case 'm', 'M':
			v, _ := strconv.ParseInt(text[:n-1], 10, 64)
			return v * 1024 * 1024
		}
	}
	v, _ := strconv.ParseInt(text, 10, 64)
	return v
}

// skipUnknown consumes an unrecognized directive (simple or block form) so
// one unsupported line doesn't abort the whole parse.
func (p *parser) skipUnknown() {
	for p.look.typ != tokSemi && p.look.typ != tokLBrace && p.look.typ != tokEOF && p.look.typ != tokRBrace {
		p.advance()
	}
	switch p.look.typ {
	case tokSemi:
		p.advance()
	case tokLBrace:
		p.skipBlock()
	}
}

func (p *parser) skipBlock() {
	p.expect(tokLBrace)
	depth := 1
	for depth > 0 {
		switch p.look.typ {
		case tokEOF:
			p.fail(p.look.line, p.look.col, "unexpected end of file while skipping block", KindSyntax)
		case tokLBrace:
			depth++
			p.advance()
		case tokRBrace:
			depth--
			p.advance()
		default:
			p.advance()
		}
	}
}

func (p *parser) parseServerBlock() *ServerConfig {
	s := &ServerConfig{
		ErrorPages:      map[int]string{},
		MaxHeaderSize:   DefaultMaxHeaderSize,
		MaxHeaderLines:  DefaultMaxHeaderLines,
		MaxRequestLine:  DefaultMaxRequestLine,
		HeaderTimeoutMs: DefaultHeaderTimeoutMs,
	}
	for p.look.typ != tokRBrace {
		if p.look.typ == tokEOF {
			p.fail(p.look.line, p.look.col, "unexpected end of file inside server block", KindSyntax)
		}
		if p.look.typ != tokIdent {
			p.fail(p.look.line, p.look.col, "unexpected token '"+p.look.text+"' in server block", KindSyntax)
		}
		directive := p.look.text
		p.advance()
		switch directive {
		case "listen":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "listen expects a port number", KindSyntax)
			}
			port := p.toInt()
			if port < 1 || port > 65535 {
				p.fail(p.look.line, p.look.col, "listen port out of range (1..65535)", KindValidation)
			}
			s.Port = uint16(port)
			p.advance()
			p.expect(tokSemi)
		case "host":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "host expects an address/name", KindSyntax)
			}
			s.Host = p.look.text
			p.advance()
			p.expect(tokSemi)
		case "root":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "root expects a path", KindSyntax)
			}
			s.Root = p.look.text
			p.advance()
			p.expect(tokSemi)
		case "index":
			for p.isScalar() {
				s.Index = append(s.Index, p.look.text)
				p.advance()
			}
			p.expect(tokSemi)
		case "error_page":
			var codes []int
			for p.look.typ == tokNumber {
				codes = append(codes, p.toInt())
				p.advance()
			}
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "error_page expects a path after codes", KindSyntax)
			}
			path := p.look.text
			p.advance()
			for _, code := range codes {
				s.ErrorPages[code] = path
			}
			p.expect(tokSemi)
		case "server_name":
			for p.isScalar() {
				s.ServerNames = append(s.ServerNames, p.look.text)
				p.advance()
			}
			p.expect(tokSemi)
		case "client_max_body_size":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "client_max_body_size expects a number", KindSyntax)
			}
			s.ClientMaxBodySize = p.toByteSize()
			p.advance()
			p.expect(tokSemi)
		case "max_header_size":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "max_header_size expects a number (bytes)", KindSyntax)
			}
			s.MaxHeaderSize = p.toInt64()
			p.advance()
			p.expect(tokSemi)
		case "max_header_lines":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "max_header_lines expects a number", KindSyntax)
			}
			s.MaxHeaderLines = p.toInt()
			p.advance()
			p.expect(tokSemi)
		case "max_request_line":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "max_request_line expects a number (bytes)", KindSyntax)
			}
			s.MaxRequestLine = p.toInt64()
			p.advance()
			p.expect(tokSemi)
		case "header_timeout_ms":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "header_timeout_ms expects a number (milliseconds)", KindSyntax)
			}
			s.HeaderTimeoutMs = p.toInt64()
			p.advance()
			p.expect(tokSemi)
		case "location":
			s.Locations = append(s.Locations, p.parseLocationBlock())
		default:
			p.skipUnknown()
		}
	}
	p.expect(tokRBrace)
	return s
}

func (p *parser) parseLocationBlock() *Location {
	if !p.isScalar() {
		p.fail(p.look.line, p.look.col, "location expects a path starting with '/'", KindSyntax)
	}
	path := p.look.text
	p.advance()
	if len(path) == 0 || path[0] != '/' {
		p.fail(p.look.line, p.look.col, "location path must start with '/'", KindSyntax)
	}
	for p.look.typ != tokLBrace && p.look.typ != tokSemi && p.look.typ != tokEOF && p.look.typ != tokRBrace {
		p.advance()
	}
	if p.look.typ == tokSemi {
		p.advance()
		return &Location{Path: path}
	}
	p.expect(tokLBrace)
	loc := &Location{Path: path}
	for p.look.typ != tokRBrace {
		if p.look.typ == tokEOF {
			p.fail(p.look.line, p.look.col, "unexpected end of file inside location block", KindSyntax)
		}
		if p.look.typ != tokIdent {
			p.fail(p.look.line, p.look.col, "unexpected token '"+p.look.text+"' in location block", KindSyntax)
		}
		ldir := p.look.text
		p.advance()
		switch ldir {
		case "allowed_methods":
			var mask uint
			for p.look.typ == tokIdent {
				bit, ok := methodBit(p.look.text)
				if ok {
					mask |= bit
				}
				p.advance()
			}
			loc.MethodsMask = mask
			loc.HasMethods = true
			p.expect(tokSemi)
		case "root":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "root expects a path", KindSyntax)
			}
			loc.Root = p.look.text
			loc.HasRoot = true
			p.advance()
			p.expect(tokSemi)
		case "index":
			for p.isScalar() {
				loc.Index = append(loc.Index, p.look.text)
				p.advance()
			}
			loc.HasIndex = true
			p.expect(tokSemi)
		case "autoindex":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "autoindex expects 'on' or 'off'", KindSyntax)
			}
			v := p.look.text
			p.advance()
			p.expect(tokSemi)
			loc.Autoindex = v == "on" || v == "ON" || v == "On"
			loc.HasAutoindex = true
		case "return":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "return expects a status code", KindSyntax)
			}
			code := p.toInt()
			p.advance()
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "return expects a URL after status code", KindSyntax)
			}
			url := p.look.text
			p.advance()
			p.expect(tokSemi)
			if code == 301 || code == 302 {
				loc.RedirectCode = code
				loc.RedirectLocation = url
				loc.HasRedirect = true
			}
		case "cgi_pass":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "cgi_pass expects a path", KindSyntax)
			}
			loc.CgiPass = p.look.text
			p.advance()
			p.expect(tokSemi)
		case "cgi_path":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "cgi_path expects a path", KindSyntax)
			}
			loc.CgiPath = p.look.text
			p.advance()
			p.expect(tokSemi)
		case "upload_store":
			if !p.isScalar() {
				p.fail(p.look.line, p.look.col, "upload_store expects a path", KindSyntax)
			}
			loc.UploadStore = p.look.text
			p.advance()
			p.expect(tokSemi)
		case "client_max_body_size":
			if p.look.typ != tokNumber {
				p.fail(p.look.line, p.look.col, "client_max_body_size expects a number", KindSyntax)
			}
			loc.ClientMaxBodySizeOverride = p.toByteSize()
			loc.HasClientMaxBodySizeOverride = true
			p.advance()
			p.expect(tokSemi)
		default:
			p.skipUnknown()
		}
	}
	p.expect(tokRBrace)
	return loc
}
