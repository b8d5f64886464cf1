package hostgen

import (
	"net"
	"strconv"

	"github.com/hkensame/kdiscovery/pkg/errors"
	"github.com/hkensame/kdiscovery/pkg/log"
)

var ErrInvalidHost = errors.New("错误的host格式")

func isValidIPAndLocalHost(ip string) bool {
	if ip == "localhost" {
		return true
	}
	return net.ParseIP(ip) != nil
}

func isValidPort(port string) bool {
	p, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return p >= 1 && p <= 65535
}

// GetUsagePort 向系统申请一个当前空闲的端口
func GetUsagePort() (int, error) {
	//tcp协议中,如果端口为0则在listen,dial这些函数中会默认给它分配一个空闲的端口
	lis, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, err
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}

// 解析传入的host,选取(若无适合的ip或port则自动生成一个可用的)两者中适合的地址(即可使用的ip与port),
// 得到的地址会被注册到注册中心,所以不能是0.0.0.0这类通配地址
func ResolveHost(host string) (string, error) {
	ip, port, err := net.SplitHostPort(host)
	if err != nil {
		log.Errorf("[hostgen] 无法从host%q中提取有效的ip或port", host)
		return "", ErrInvalidHost
	}

	//如果port为无效值则自动获取port
	if uport, err := strconv.Atoi(port); uport <= 0 || err != nil {
		uport, err = GetUsagePort()
		if err != nil {
			return "", errors.Wrap(err, "获取空闲端口失败")
		}
		port = strconv.Itoa(uport)
	}

	//如果ip与port是可用的就直接返回
	if len(ip) > 0 && ip != "0.0.0.0" && ip != "::" {
		return net.JoinHostPort(ip, port), nil
	}

	//通过以下逻辑在编号最小的网卡上选出可使用的ip
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	var result net.IP
	for _, iface := range ifaces {
		if (iface.Flags&net.FlagUp) == 0 || (iface.Flags&net.FlagLoopback) != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, rawAddr := range addrs {
			var ip net.IP
			switch addr := rawAddr.(type) {
			case *net.IPAddr:
				ip = addr.IP
			case *net.IPNet:
				ip = addr.IP
			default:
				continue
			}
			if ip.IsGlobalUnicast() && ip.To4() != nil {
				result = ip
				break
			}
		}
		if result != nil {
			break
		}
	}
	if result == nil {
		result = net.IPv4(127, 0, 0, 1)
	}
	return net.JoinHostPort(result.String(), port), nil
}

func ValidListenHost(host string) bool {
	ip, port, err := net.SplitHostPort(host)
	if err != nil {
		return false
	}
	return isValidIPAndLocalHost(ip) && isValidPort(port)
}
