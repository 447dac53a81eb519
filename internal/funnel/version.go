package funnel

// EngineVersion is reported by funnelctl --version. Persisted shapes
// carry their own version segment in the hash domain prefixes.
const EngineVersion = "0.1.0"
