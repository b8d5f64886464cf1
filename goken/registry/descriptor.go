package registry

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hkensame/kdiscovery/pkg/errors"
)

// Descriptor 标识一个被订阅的逻辑服务,形如 grpc://svc-a:9000/path?group=dev
// host部分即服务名,创建后不可修改,需要改参数时使用WithParams得到新的副本
type Descriptor struct {
	scheme  string
	service string
	port    int
	path    string
	params  map[string]string
}

func NewDescriptor(scheme, service string, port int, params map[string]string) *Descriptor {
	d := &Descriptor{
		scheme:  scheme,
		service: service,
		port:    port,
		params:  make(map[string]string, len(params)),
	}
	for k, v := range params {
		d.params[k] = v
	}
	return d
}

// ParseDescriptor 从字符串解析Descriptor,host为空时取path的第一段作为服务名
func ParseDescriptor(raw string) (*Descriptor, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "无法解析订阅地址%q", raw)
	}
	return DescriptorFromURL(u)
}

func DescriptorFromURL(u *url.URL) (*Descriptor, error) {
	d := &Descriptor{
		scheme: u.Scheme,
		path:   u.Path,
		params: make(map[string]string),
	}
	host := u.Host
	if h, p, err := net.SplitHostPort(host); err == nil {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "订阅地址%q的端口非法", u.String())
		}
		host, d.port = h, port
	}
	d.service = host
	if d.service == "" {
		d.service = strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)[0]
		d.path = strings.TrimPrefix(strings.TrimPrefix(u.Path, "/"), d.service)
	}
	if d.service == "" {
		return nil, errors.Errorf("订阅地址%q中缺少服务名", u.String())
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			d.params[k] = vs[0]
		}
	}
	return d, nil
}

func (d *Descriptor) Scheme() string      { return d.scheme }
func (d *Descriptor) ServiceName() string { return d.service }
func (d *Descriptor) Port() int           { return d.port }
func (d *Descriptor) Path() string        { return d.path }

func (d *Descriptor) Param(key string) string {
	return d.params[key]
}

// Params 返回参数的副本
func (d *Descriptor) Params() map[string]string {
	cp := make(map[string]string, len(d.params))
	for k, v := range d.params {
		cp[k] = v
	}
	return cp
}

// WithParams 返回合并了extra的新Descriptor,同名参数以extra为准
func (d *Descriptor) WithParams(extra map[string]string) *Descriptor {
	nd := NewDescriptor(d.scheme, d.service, d.port, d.params)
	nd.path = d.path
	for k, v := range extra {
		nd.params[k] = v
	}
	return nd
}

// String 返回规范化的字符串形式,参数按key排序,可直接作为订阅的key使用
func (d *Descriptor) String() string {
	host := d.service
	if d.port > 0 {
		host = net.JoinHostPort(d.service, strconv.Itoa(d.port))
	}
	u := url.URL{Scheme: d.scheme, Host: host, Path: d.path}
	if len(d.params) > 0 {
		q := url.Values{}
		for k, v := range d.params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}
