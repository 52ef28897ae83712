package proxy

import (
	"regexp"

	"bridge-rpc/fault"
)

// classNamePattern matches the head of the host's inspect output,
// e.g. "[class java.math.BigInteger:" or "[class [Ljava.lang.String;:".
var classNamePattern = regexp.MustCompile(`^\[class (\S+?):`)

// parseClassName extracts the class name from an inspect description.
func parseClassName(desc string) (string, error) {
	m := classNamePattern.FindStringSubmatch(desc)
	if m == nil {
		head := desc
		if len(head) > 64 {
			head = head[:64] + "..."
		}
		return "", fault.New(fault.KindUnexpectedFormat, "inspect output %q has no [class <name>: prefix", head)
	}
	return m[1], nil
}
