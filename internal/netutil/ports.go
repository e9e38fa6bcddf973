package netutil

import "fmt"

// serviceNames maps well-known ports to their conventional service name,
// used when a scan reports no service detection for an open port.
var serviceNames = map[int]string{
	20:    "ftp-data",
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	67:    "dhcps",
	80:    "http",
	110:   "pop3",
	123:   "ntp",
	135:   "msrpc",
	137:   "netbios-ns",
	139:   "netbios-ssn",
	143:   "imap",
	161:   "snmp",
	389:   "ldap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	587:   "submission",
	631:   "ipp",
	636:   "ldaps",
	873:   "rsync",
	993:   "imaps",
	995:   "pop3s",
	1433:  "ms-sql-s",
	1521:  "oracle",
	1883:  "mqtt",
	2049:  "nfs",
	3000:  "ppp",
	3128:  "squid-http",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	5000:  "upnp",
	5060:  "sip",
	5432:  "postgresql",
	5672:  "amqp",
	5900:  "vnc",
	6379:  "redis",
	8000:  "http-alt",
	8080:  "http-proxy",
	8443:  "https-alt",
	9090:  "zeus-admin",
	9100:  "jetdirect",
	11211: "memcache",
	27017: "mongod",
}

// ServiceName returns the conventional service name for a port, or
// "unknown" when no mapping exists.
func ServiceName(port int) string {
	if name, ok := serviceNames[port]; ok {
		return name
	}
	return "unknown"
}

// PortLabel renders a port the way change events present it, for example
// "3389/tcp (ms-wbt-server)".
func PortLabel(port int, protocol, service string) string {
	if service == "" {
		service = ServiceName(port)
	}
	return fmt.Sprintf("%d/%s (%s)", port, protocol, service)
}
