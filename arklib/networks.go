package arklib

import "github.com/btcsuite/btcd/chaincfg"

type Network struct {
	Name string
	Addr string
}

// ChainParams returns the btcd chain parameters matching the network.
func (n Network) ChainParams() chaincfg.Params {
	switch n.Name {
	case BitcoinTestNet.Name:
		return chaincfg.TestNet3Params
	case BitcoinSigNet.Name:
		return chaincfg.SigNetParams
	case BitcoinRegTest.Name:
		return chaincfg.RegressionNetParams
	default:
		return chaincfg.MainNetParams
	}
}

func NetworkFromString(name string) Network {
	switch name {
	case BitcoinTestNet.Name:
		return BitcoinTestNet
	case BitcoinSigNet.Name:
		return BitcoinSigNet
	case BitcoinRegTest.Name:
		return BitcoinRegTest
	default:
		return Bitcoin
	}
}

var Bitcoin = Network{
	Name: "bitcoin",
	Addr: "ark",
}

var BitcoinTestNet = Network{
	Name: "testnet",
	Addr: "tark",
}

var BitcoinSigNet = Network{
	Name: "signet",
	Addr: "tark",
}

var BitcoinRegTest = Network{
	Name: "regtest",
	Addr: "tark",
}
