package taxonomy

// DefaultVersion labels the built-in rule table.
const DefaultVersion = "v1"

// DefaultRules is the built-in rule order. Specific domains come before
// broad ones: "ai for healthcare" is ai, "fintech saas" is fintech,
// "developer platform" is developer-tools rather than enterprise.
var DefaultRules = []Rule{
	{Tag: AI, Keywords: []string{
		"artificial intelligence", "machine learning", "deep learning",
		"llm", "genai", "generative", "computer vision", " nlp ", " ai ",
	}},
	{Tag: Crypto, Keywords: []string{
		"crypto", "blockchain", "web3", " defi ", " nft ", "token",
	}},
	{Tag: Fintech, Keywords: []string{
		"fintech", "payment", "banking", "lending", "insurtech",
		"insurance", "finance", "financial", "wealth",
	}},
	{Tag: Health, Keywords: []string{
		"health", "medical", "biotech", "pharma", "clinical",
		"therapeut", "medtech", "wellness", "life science",
	}},
	{Tag: Climate, Keywords: []string{
		"climate", "clean energy", "cleantech", "carbon", "renewable",
		"solar", "sustainab", "energy",
	}},
	{Tag: DeveloperTools, Keywords: []string{
		"developer", "devtools", "dev tools", "devops", " api ",
		"infrastructure", "open source", "observability",
	}},
	{Tag: Deeptech, Keywords: []string{
		"deeptech", "deep tech", "robotics", "quantum", "semiconductor",
		"hardware", " space ", "aerospace", "materials",
	}},
	{Tag: Edtech, Keywords: []string{
		"edtech", "education", "learning", "school",
	}},
	{Tag: Marketplace, Keywords: []string{
		"marketplace", "two sided", "gig economy",
	}},
	{Tag: Enterprise, Keywords: []string{
		"enterprise", "b2b", "security", "hr tech",
		"legal tech", "supply chain", "logistics",
	}},
	{Tag: SaaS, Keywords: []string{
		"saas", "software as a service", "cloud software", "subscription software",
	}},
	{Tag: Consumer, Keywords: []string{
		"consumer", "b2c", "d2c", "dtc", "social", "gaming", "media",
		"ecommerce", "e commerce", "retail", "food",
	}},
}

// DefaultAdjacency pairs tags that share investor theses.
var DefaultAdjacency = [][2]Tag{
	{AI, DeveloperTools},
	{AI, SaaS},
	{AI, Deeptech},
	{SaaS, Enterprise},
	{SaaS, DeveloperTools},
	{Enterprise, DeveloperTools},
	{Fintech, Crypto},
	{Fintech, Enterprise},
	{Health, Deeptech},
	{Climate, Deeptech},
	{Consumer, Marketplace},
	{Consumer, Edtech},
}

// Default returns the built-in v1 table.
func Default() *Table {
	t, err := New(DefaultVersion, DefaultRules, DefaultAdjacency)
	if err != nil {
		panic("taxonomy: invalid default table: " + err.Error())
	}
	return t
}
