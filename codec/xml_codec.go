package codec

import (
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"strconv"

	"bridge-rpc/message"
)

// XMLCodec speaks the element vocabulary of the classic bridge protocol.
//
//	<C v="java.math.BigInteger" p="I"><L v="10" p="O"/></C>   create
//	<C v="java.lang.Class" p="C"/>                             class reference
//	<I v="1" m="add" p="I"><O v="2"/></I>                      invoke
//	<F p="E"/>                                                 finish
//
// Values: <N/> null, <V/> void, <S v=""/>, <B v="T|F"/>, <L v="abs" p="O|A"/>
// (sign in p), <D v=""/>, <O v="id" m="class"/>, and <X t="L|H"> holding <P>
// pairs (t carries the key for maps). Faults are <E> with <U> cause and <T>
// stack trace children.
type XMLCodec struct{}

// node is a generic element tree; encoding/xml handles escaping both ways.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []node     `xml:",any"`
	Text    string     `xml:",chardata"`
}

func el(name string, kv ...string) node {
	n := node{XMLName: xml.Name{Local: name}}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: kv[i]}, Value: kv[i+1]})
	}
	return n
}

func (n node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (c *XMLCodec) Encode(v any) ([]byte, error) {
	var n node
	switch msg := v.(type) {
	case *message.Request:
		var err error
		if n, err = requestNode(msg); err != nil {
			return nil, err
		}
	case *message.Response:
		n = responseNode(msg)
	default:
		return nil, errors.New("XMLCodec: v must be *Request or *Response")
	}
	return xml.Marshal(n)
}

func (c *XMLCodec) Decode(data []byte, v any) error {
	var n node
	if err := xml.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("XMLCodec: %w", err)
	}
	switch msg := v.(type) {
	case *message.Request:
		req, err := decodeRequest(n)
		if err != nil {
			return err
		}
		*msg = *req
	case *message.Response:
		resp, err := decodeResponse(n)
		if err != nil {
			return err
		}
		*msg = *resp
	default:
		return errors.New("XMLCodec: v must be *Request or *Response")
	}
	return nil
}

func (c *XMLCodec) Type() CodecType {
	return CodecTypeXML
}

func requestNode(req *message.Request) (node, error) {
	var n node
	switch req.Kind {
	case message.RequestCreate:
		n = el("C", "v", req.Name, "p", "I")
	case message.RequestReference:
		return el("C", "v", req.Name, "p", "C"), nil
	case message.RequestInvoke:
		n = el("I", "v", strconv.FormatInt(req.Object, 10), "m", req.Name, "p", "I")
	case message.RequestFinish:
		return el("F", "p", "E"), nil
	default:
		return node{}, fmt.Errorf("XMLCodec: unknown request kind %v", req.Kind)
	}
	for _, arg := range req.Args {
		n.Nodes = append(n.Nodes, valueNode(arg))
	}
	return n, nil
}

func responseNode(resp *message.Response) node {
	f := resp.Fault
	if f == nil {
		return valueNode(resp.Value)
	}
	n := el("E",
		"k", string(rune(f.Kind)),
		"v", strconv.FormatInt(f.Object, 10),
		"c", f.Class,
		"m", f.Message)
	if f.Cause != "" {
		cause := el("U")
		cause.Text = f.Cause
		n.Nodes = append(n.Nodes, cause)
	}
	if f.StackTrace != "" {
		trace := el("T")
		trace.Text = f.StackTrace
		n.Nodes = append(n.Nodes, trace)
	}
	return n
}

func valueNode(v message.Value) node {
	switch v.Kind {
	case message.KindVoid:
		return el("V")
	case message.KindString:
		return el("S", "v", v.Str)
	case message.KindBool:
		if v.Bool {
			return el("B", "v", "T")
		}
		return el("B", "v", "F")
	case message.KindLong:
		// magnitude and sign travel separately; uint64 keeps MinInt64 exact
		if v.Long < 0 {
			return el("L", "v", strconv.FormatUint(uint64(-(v.Long+1))+1, 10), "p", "A")
		}
		return el("L", "v", strconv.FormatUint(uint64(v.Long), 10), "p", "O")
	case message.KindDouble:
		return el("D", "v", strconv.FormatFloat(v.Double, 'g', -1, 64))
	case message.KindObject:
		n := el("O", "v", strconv.FormatInt(v.Ref, 10))
		if v.Class != "" {
			n.Attrs = append(n.Attrs, xml.Attr{Name: xml.Name{Local: "m"}, Value: v.Class})
		}
		return n
	case message.KindList:
		n := el("X", "t", "L")
		for _, item := range v.List {
			p := el("P")
			p.Nodes = []node{valueNode(item)}
			n.Nodes = append(n.Nodes, p)
		}
		return n
	case message.KindMap:
		n := el("X", "t", "H")
		for _, e := range v.Map {
			p := el("P", "t", e.Key)
			p.Nodes = []node{valueNode(e.Value)}
			n.Nodes = append(n.Nodes, p)
		}
		return n
	default:
		return el("N")
	}
}

func decodeRequest(n node) (*message.Request, error) {
	req := &message.Request{}
	switch n.XMLName.Local {
	case "C":
		req.Name, _ = n.attr("v")
		if p, _ := n.attr("p"); p == "C" {
			req.Kind = message.RequestReference
			return req, nil
		}
		req.Kind = message.RequestCreate
	case "I":
		req.Kind = message.RequestInvoke
		req.Name, _ = n.attr("m")
		id, err := intAttr(n, "v")
		if err != nil {
			return nil, err
		}
		req.Object = id
	case "F":
		req.Kind = message.RequestFinish
		return req, nil
	default:
		return nil, fmt.Errorf("XMLCodec: unknown request element <%s>", n.XMLName.Local)
	}
	for _, child := range n.Nodes {
		v, err := decodeValue(child)
		if err != nil {
			return nil, err
		}
		req.Args = append(req.Args, v)
	}
	return req, nil
}

func decodeResponse(n node) (*message.Response, error) {
	if n.XMLName.Local != "E" {
		v, err := decodeValue(n)
		if err != nil {
			return nil, err
		}
		return &message.Response{Value: v}, nil
	}

	f := &message.Fault{Kind: message.FaultException}
	if k, _ := n.attr("k"); len(k) == 1 {
		f.Kind = message.FaultKind(k[0])
	}
	if _, ok := n.attr("v"); ok {
		id, err := intAttr(n, "v")
		if err != nil {
			return nil, err
		}
		f.Object = id
	}
	f.Class, _ = n.attr("c")
	f.Message, _ = n.attr("m")
	for _, child := range n.Nodes {
		switch child.XMLName.Local {
		case "U":
			f.Cause = child.Text
		case "T":
			f.StackTrace = child.Text
		}
	}
	return &message.Response{Fault: f}, nil
}

func decodeValue(n node) (message.Value, error) {
	raw, _ := n.attr("v")
	switch n.XMLName.Local {
	case "N":
		return message.Null(), nil
	case "V":
		return message.Void(), nil
	case "S":
		return message.String(raw), nil
	case "B":
		return message.Bool(raw == "T" || raw == "1" || raw == "true"), nil
	case "L":
		mag, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return message.Value{}, fmt.Errorf("XMLCodec: bad long %q: %w", raw, err)
		}
		if p, _ := n.attr("p"); p == "A" {
			if mag > 1<<63 {
				return message.Value{}, fmt.Errorf("XMLCodec: long -%s out of range", raw)
			}
			return message.Long(-int64(mag-1) - 1), nil
		}
		if mag > math.MaxInt64 {
			return message.Value{}, fmt.Errorf("XMLCodec: long %s out of range", raw)
		}
		return message.Long(int64(mag)), nil
	case "D":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return message.Value{}, fmt.Errorf("XMLCodec: bad double %q: %w", raw, err)
		}
		return message.Double(f), nil
	case "O":
		id, err := intAttr(n, "v")
		if err != nil {
			return message.Value{}, err
		}
		class, _ := n.attr("m")
		return message.Object(id, class), nil
	case "X":
		return decodeComposite(n)
	default:
		return message.Value{}, fmt.Errorf("XMLCodec: unknown value element <%s>", n.XMLName.Local)
	}
}

func decodeComposite(n node) (message.Value, error) {
	t, _ := n.attr("t")
	out := message.Value{Kind: message.KindList}
	if t == "H" {
		out.Kind = message.KindMap
	}
	for _, p := range n.Nodes {
		item := message.Null()
		if len(p.Nodes) > 0 {
			v, err := decodeValue(p.Nodes[0])
			if err != nil {
				return message.Value{}, err
			}
			item = v
		}
		if out.Kind == message.KindMap {
			key, _ := p.attr("t")
			out.Map = append(out.Map, message.Entry{Key: key, Value: item})
		} else {
			out.List = append(out.List, item)
		}
	}
	return out, nil
}

func intAttr(n node, name string) (int64, error) {
	raw, _ := n.attr(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("XMLCodec: bad %s attribute %q on <%s>", name, raw, n.XMLName.Local)
	}
	return id, nil
}
