package fingerprint

import (
	"bytes"
	"regexp"
	"strings"
)

// Facts is what a refinement probe learned about a service.
type Facts struct {
	Service string
	Product string
	Version string
	Banner  string
}

var (
	sshBanner   = regexp.MustCompile(`^SSH-[\d.]+-([A-Za-z][\w.-]*?)[_-]v?(\d[\w.]*)`)
	serverToken = regexp.MustCompile(`^([A-Za-z][\w.-]*?)(?:/v?(\d[\w.-]*))?(?:\s|$)`)
	versionNum  = regexp.MustCompile(`\d+(?:\.\d+)+[a-z]?\d*`)
	redisField  = regexp.MustCompile(`(?m)^redis_version:([\w.]+)`)
)

// productSignatures map banner text to a product name. The first capture
// group, when present and matched, is the version.
var productSignatures = []struct {
	re      *regexp.Regexp
	product string
}{
	{regexp.MustCompile(`(?i)vsftpd\s+([\d.]+)`), "vsftpd"},
	{regexp.MustCompile(`(?i)proftpd\s+([\d.]+[a-z]*)`), "proftpd"},
	{regexp.MustCompile(`(?i)pure-ftpd`), "pure-ftpd"},
	{regexp.MustCompile(`(?i)filezilla server\s*v?([\d.]+)?`), "filezilla"},
	{regexp.MustCompile(`(?i)exim\s+([\d.]+)`), "exim"},
	{regexp.MustCompile(`(?i)postfix`), "postfix"},
	{regexp.MustCompile(`(?i)sendmail\s+([\d.]+)`), "sendmail"},
	{regexp.MustCompile(`(?i)dovecot`), "dovecot"},
	{regexp.MustCompile(`(?i)microsoft esmtp`), "exchange"},
	{regexp.MustCompile(`(?i)dnsmasq-([\d.]+)`), "dnsmasq"},
	{regexp.MustCompile(`(?i)unbound\s+([\d.]+)`), "unbound"},
	{regexp.MustCompile(`(?i)powerdns.*?([\d]+\.[\d.]+)`), "powerdns"},
	{regexp.MustCompile(`(?i)RouterOS\s*v?([\d.]+)?`), "routeros"},
	{regexp.MustCompile(`(?i)Cisco IOS.*?Version\s+([\d.()A-Za-z]+)`), "cisco-ios"},
	{regexp.MustCompile(`(?i)^Linux\s+\S+\s+([\d.]+)`), "linux"},
}

// ParseSSH reads an SSH identification string, e.g.
// "SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.5".
func ParseSSH(banner string) Facts {
	line := firstLine(banner)
	f := Facts{Service: "ssh", Banner: line}
	if m := sshBanner.FindStringSubmatch(line); m != nil {
		f.Product = strings.ToLower(m[1])
		f.Version = m[2]
	}
	return f
}

// ParseServerHeader splits an HTTP Server header such as
// "Apache/2.4.49 (Unix)" into product and version.
func ParseServerHeader(header string) (product, version string) {
	header = strings.TrimSpace(header)
	if m := serverToken.FindStringSubmatch(header); m != nil {
		return strings.ToLower(m[1]), m[2]
	}
	return "", ""
}

// ParseHTTPResponse extracts the Server header from a raw HTTP response.
func ParseHTTPResponse(raw []byte, service string) Facts {
	f := Facts{Service: service, Banner: firstLine(string(raw))}
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "server") {
			f.Product, f.Version = ParseServerHeader(value)
			break
		}
	}
	return f
}

// ParseMySQLGreeting reads the server version from a MySQL protocol v10
// handshake packet: 3-byte length, sequence id, 0x0a, NUL-terminated version.
func ParseMySQLGreeting(raw []byte) (Facts, bool) {
	const headerLen = 4
	if len(raw) < headerLen+2 || raw[headerLen] != 0x0a {
		return Facts{}, false
	}
	rest := raw[headerLen+1:]
	end := bytes.IndexByte(rest, 0)
	if end <= 0 {
		return Facts{}, false
	}

	serverVersion := string(rest[:end])
	f := Facts{Service: "mysql", Product: "mysql", Banner: serverVersion}
	if strings.Contains(strings.ToLower(serverVersion), "mariadb") {
		f.Product = "mariadb"
	}
	f.Version = versionNum.FindString(serverVersion)
	if f.Product == "mariadb" {
		// MariaDB prefixes "5.5.5-" for replication compatibility.
		serverVersion = strings.TrimPrefix(serverVersion, "5.5.5-")
		f.Version = versionNum.FindString(serverVersion)
	}
	return f, true
}

// ParseRedisInfo reads redis_version from an INFO server reply.
func ParseRedisInfo(raw []byte) Facts {
	f := Facts{Service: "redis", Product: "redis"}
	if m := redisField.FindSubmatch(raw); m != nil {
		f.Version = string(m[1])
	}
	return f
}

// ParseBanner applies the product signatures to free-form banner text.
func ParseBanner(service, banner string) Facts {
	line := firstLine(banner)
	f := Facts{Service: service, Banner: line}
	for _, sig := range productSignatures {
		m := sig.re.FindStringSubmatch(banner)
		if m == nil {
			continue
		}
		f.Product = sig.product
		if len(m) > 1 {
			f.Version = m[1]
		}
		break
	}
	return f
}

// ClassifyBanner guesses a service from an unsolicited banner. It returns
// Unknown when no signature matches.
func ClassifyBanner(raw []byte) string {
	if _, ok := ParseMySQLGreeting(raw); ok {
		return "mysql"
	}
	s := string(raw)
	upper := strings.ToUpper(firstLine(s))
	switch {
	case strings.HasPrefix(s, "SSH-"):
		return "ssh"
	case strings.HasPrefix(s, "HTTP/"):
		return "http"
	case strings.HasPrefix(s, "+OK"):
		return "pop3"
	case strings.HasPrefix(s, "* OK"):
		return "imap"
	case strings.HasPrefix(s, "RFB "):
		return "vnc"
	case strings.HasPrefix(s, "220"):
		if strings.Contains(upper, "FTP") {
			return "ftp"
		}
		if strings.Contains(upper, "SMTP") || strings.Contains(upper, "MAIL") {
			return "smtp"
		}
		return "ftp"
	case strings.HasPrefix(s, "-NOAUTH"), strings.HasPrefix(s, "-ERR"):
		return "redis"
	}
	return Unknown
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Map(printable, s))
}

func printable(r rune) rune {
	if r < 0x20 || r > 0x7e {
		return -1
	}
	return r
}
