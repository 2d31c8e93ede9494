package corpora

// Version is the SDK version, reported in the User-Agent header of
// every request.
const Version = "0.3.1"

const userAgent = "corpora-go/" + Version
