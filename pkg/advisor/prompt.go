package advisor

import "strings"

const routingPrompt = `
You are an elite proxy routing AI for large-scale web scraping.

Guidelines:
- Prioritize success rate > latency > cost
- Use residential/mobile/ISP for anti-bot sites (e-commerce, social, search engines)
- Use datacenter only for easy targets
- Avoid providers with high block_rate or recent fails

Current performance summary:
{{STATS_SUMMARY}}

Target domain: {{TARGET_DOMAIN}}
Full URL: {{TARGET_URL}}
Required geo: {{GEO}}
Script: {{SCRIPT}}

Return ONLY valid JSON:
{
  "recommended_provider": "string",
  "recommended_type": "residential|datacenter|mobile|isp",
  "reason": "short explanation"
}
`

func buildPrompt(stats, domain, targetURL, geo, script string) string {
	if geo == "" {
		geo = "any"
	}
	if script == "" {
		script = "unknown"
	}
	r := strings.NewReplacer(
		"{{STATS_SUMMARY}}", stats,
		"{{TARGET_DOMAIN}}", domain,
		"{{TARGET_URL}}", targetURL,
		"{{GEO}}", geo,
		"{{SCRIPT}}", script,
	)
	return strings.TrimSpace(r.Replace(routingPrompt))
}
