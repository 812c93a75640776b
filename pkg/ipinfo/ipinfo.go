package ipinfo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"proxy-gateway/pkg/models"

	"github.com/spf13/viper"
)

type IPInfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Anycast  bool   `json:"anycast"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
}

// Enabled reports whether a lookup token is configured. Imports skip
// enrichment entirely when it is not.
func Enabled() bool {
	return viper.GetString("ipinfo.token") != ""
}

func GetIPInfo(ip string) (IPInfoResponse, error) {
	url := fmt.Sprintf("https://ipinfo.io/%s?token=%s", ip, viper.GetString("ipinfo.token"))
	resp, err := http.Get(url)
	if err != nil {
		return IPInfoResponse{}, err
	}
	defer resp.Body.Close()

	var ipInfo IPInfoResponse
	err = json.NewDecoder(resp.Body).Decode(&ipInfo)
	if err != nil {
		return IPInfoResponse{}, err
	}

	return ipInfo, nil
}

// UpdateProxyWithIPInfo fills geo fields a proxy list did not carry. It never
// overwrites a country the source already declared.
func UpdateProxyWithIPInfo(proxy *models.Proxy, ipInfo IPInfoResponse) {
	if proxy.Country == "" || proxy.Country == "GLOBAL" {
		if ipInfo.Country != "" {
			proxy.Country = strings.ToUpper(ipInfo.Country)
		}
	}
	if proxy.Metadata == nil {
		proxy.Metadata = map[string]any{}
	}
	if ipInfo.City != "" {
		proxy.Metadata["city"] = ipInfo.City
	}
	if ipInfo.Org != "" {
		proxy.Metadata["org"] = ipInfo.Org
	}
}
